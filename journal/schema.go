package journal

const Schema = `
CREATE TABLE IF NOT EXISTS signals (
	signal_id TEXT PRIMARY KEY,
	strategy_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	type TEXT NOT NULL,
	strength REAL NOT NULL,
	confidence REAL NOT NULL,
	price REAL NOT NULL,
	target_price REAL,
	stop_loss REAL,
	reasoning TEXT NOT NULL,
	metadata TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	signal_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	approved INTEGER NOT NULL,
	reason TEXT NOT NULL,
	requested_quantity REAL NOT NULL,
	quantity REAL NOT NULL,
	required_stop REAL,
	notional REAL NOT NULL,
	post_leverage REAL NOT NULL,
	post_var REAL NOT NULL,
	violations TEXT NOT NULL,
	warnings TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	venue TEXT NOT NULL,
	status TEXT NOT NULL,
	quantity REAL NOT NULL,
	filled_quantity REAL NOT NULL,
	avg_price REAL NOT NULL,
	reason TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	units REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	free_margin REAL NOT NULL,
	margin_level REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	account_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	portfolio_value REAL NOT NULL,
	leverage REAL NOT NULL,
	var_95 REAL NOT NULL,
	var_99 REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	sharpe REAL NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stress_results (
	account_id TEXT NOT NULL,
	scenario_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	pre_value TEXT NOT NULL,
	post_value TEXT NOT NULL,
	loss TEXT NOT NULL,
	loss_pct REAL NOT NULL,
	margin_call INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	symbol TEXT NOT NULL,
	metric TEXT NOT NULL,
	current REAL NOT NULL,
	limit_value REAL NOT NULL,
	message TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	strategy_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	start_time DATETIME,
	end_time DATETIME,
	signals INTEGER NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	initial_equity REAL NOT NULL,
	final_equity REAL NOT NULL,
	total_return REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	sharpe REAL NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(account_id, time);
CREATE INDEX IF NOT EXISTS idx_trades_close ON trades(close_time);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
CREATE INDEX IF NOT EXISTS idx_metrics_account ON risk_metrics(account_id, time);
CREATE INDEX IF NOT EXISTS idx_stress_account ON stress_results(account_id, time);
CREATE INDEX IF NOT EXISTS idx_alerts_account ON alerts(account_id, created_at);
`
