package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/backtest"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/pkg/id"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest catalog strategies on historical bars",
	Long: `Replay historical OHLCV bars through the signal generators of the
configured strategies and report trades, equity and drawdown.

Bars come from the market.files entries of the config, or from --data for a
single --symbol. Every strategy that trades a symbol with data is run unless
--strategy picks one.

Examples:
  tradeguard backtest -c tradeguard.yaml
  tradeguard backtest -c tradeguard.yaml --strategy trend-us-equity --db bt.sqlite
  tradeguard backtest --symbol AAPL --data data/AAPL.csv --trades trades.csv --equity equity.csv`,
	RunE: runBacktest,
}

var (
	btStrategy string
	btSymbol   string
	btDataPath string
	btDBPath   string
	btTrades   string
	btEquity   string
	btOrgDir   string
	btJSON     bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btStrategy, "strategy", "s", "", "strategy id (default: every configured strategy)")
	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "", "restrict to one symbol")
	backtestCmd.Flags().StringVarP(&btDataPath, "data", "d", "", "bar CSV for --symbol (time,open,high,low,close,volume)")
	backtestCmd.Flags().StringVar(&btDBPath, "db", "", "SQLite journal to store runs in")
	backtestCmd.Flags().StringVar(&btTrades, "trades", "", "write trades CSV")
	backtestCmd.Flags().StringVar(&btEquity, "equity", "", "write equity CSV")
	backtestCmd.Flags().StringVar(&btOrgDir, "org", "", "directory to write one Org report per run")
	backtestCmd.Flags().BoolVar(&btJSON, "json", false, "print results as JSON")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if btDataPath != "" && btSymbol == "" {
		return fmt.Errorf("--data needs --symbol")
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	cfg.RegisterInstruments()

	jobs, err := backtestJobs(cfg)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("nothing to backtest: no strategy trades a symbol with data")
	}

	eng := backtest.NewEngine(signals.NewRegistry(), cfg.Backtest, log)
	results, err := eng.RunBatch(cmd.Context(), jobs, cfg.Engine.Concurrency)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		if btJSON {
			b, err := r.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			continue
		}
		backtest.Print(out, r)
	}
	return saveBacktests(cmd, results)
}

// backtestJobs pairs strategies with the symbols that have bars.
func backtestJobs(cfg *config.Config) ([]backtest.Job, error) {
	paths := map[string]string{}
	if btDataPath != "" {
		paths[btSymbol] = btDataPath
	} else {
		for sym := range cfg.Market.Files {
			if btSymbol == "" || sym == btSymbol {
				paths[sym] = cfg.Market.Path(sym)
			}
		}
	}

	candles := map[string][]market.Candle{}
	for sym, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bars for %s: %w", sym, err)
		}
		bars, err := market.ReadCandlesCSV(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read bars for %s: %w", sym, err)
		}
		candles[sym] = bars
	}

	strats := cfg.Strategies
	if btStrategy != "" {
		i := slices.IndexFunc(strats, func(s strategies.Strategy) bool { return s.ID == btStrategy })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", strategies.ErrNotFound, btStrategy)
		}
		strats = strats[i : i+1]
	}

	var jobs []backtest.Job
	for _, s := range strats {
		for _, sym := range s.Instruments {
			if bars, ok := candles[sym]; ok {
				jobs = append(jobs, backtest.Job{Strategy: s, Symbol: sym, Candles: bars})
			}
		}
	}
	// ad hoc data for a symbol the strategy does not list
	if btDataPath != "" && btStrategy != "" && len(jobs) == 0 {
		jobs = append(jobs, backtest.Job{Strategy: strats[0], Symbol: btSymbol, Candles: candles[btSymbol]})
	}
	return jobs, nil
}

func saveBacktests(cmd *cobra.Command, results []backtest.Result) error {
	out := cmd.OutOrStdout()
	created := time.Now()

	var (
		db    *journal.SQLite
		sheet *journal.CSVJournal
		err   error
	)
	if btDBPath != "" {
		if db, err = journal.NewSQLite(btDBPath); err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
	}
	if btTrades != "" || btEquity != "" {
		if btTrades == "" || btEquity == "" {
			return fmt.Errorf("--trades and --equity go together")
		}
		if sheet, err = journal.NewCSV(btTrades, btEquity); err != nil {
			return fmt.Errorf("open csv: %w", err)
		}
		defer sheet.Close()
	}

	for _, r := range results {
		runID := id.NewAt(created)
		if db != nil {
			if err := db.RecordBacktest(cmd.Context(), runID, r, created); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved run %s (%s %s) to %s\n", runID, r.StrategyID, r.Symbol, btDBPath)
		}
		if sheet != nil {
			if err := sheet.WriteBacktest(r); err != nil {
				return err
			}
		}
		if btOrgDir != "" {
			if err := os.MkdirAll(btOrgDir, 0o755); err != nil {
				return err
			}
			run := journal.RunFromResult(runID, r, created)
			path := filepath.Join(btOrgDir, r.StrategyID+"-"+r.Symbol+".org")
			if err := run.WriteOrg(path); err != nil {
				return fmt.Errorf("write org: %w", err)
			}
			fmt.Fprintf(out, "Wrote %s\n", path)
		}
	}
	return nil
}
