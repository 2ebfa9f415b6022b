package journal

import (
	"bytes"
	"os"
	"text/template"
	"time"

	"github.com/rustyeddy/tradeguard/backtest"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID      string
	Created    time.Time
	StrategyID string
	Symbol     string

	Start time.Time
	End   time.Time

	Signals int
	Trades  int
	Wins    int
	Losses  int

	StartBalance float64
	EndBalance   float64

	NetPL        float64
	ReturnPct    float64 // fraction
	MaxDDPct     float64 // fraction
	Sharpe       float64
	WinRate      float64
	ProfitFactor float64

	TradeLog []TradeRecord

	Notes       []string
	NextActions []string
}

// RunFromResult summarises a finished backtest.
func RunFromResult(runID string, r backtest.Result, created time.Time) BacktestRun {
	s := r.Summary
	run := BacktestRun{
		RunID:        runID,
		Created:      created,
		StrategyID:   r.StrategyID,
		Symbol:       r.Symbol,
		Signals:      s.Signals,
		Trades:       s.Trades,
		Wins:         s.Wins,
		Losses:       s.Losses,
		StartBalance: s.InitialEquity,
		EndBalance:   s.FinalEquity,
		NetPL:        s.FinalEquity - s.InitialEquity,
		ReturnPct:    s.TotalReturn,
		MaxDDPct:     s.MaxDrawdown,
		Sharpe:       s.Sharpe,
		WinRate:      s.WinRate,
		ProfitFactor: s.ProfitFactor,
	}
	if n := len(r.Equity); n > 0 {
		run.Start, run.End = r.Equity[0].Time, r.Equity[n-1].Time
	}
	return run
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// Org renders the run as an Org-mode block.
func (v BacktestRun) Org() (string, error) {
	buf := new(bytes.Buffer)
	if err := backtestOrg.Execute(buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (v BacktestRun) WriteOrg(path string) error {
	s, err := v.Org()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

const BacktestOrgTemplate = `
* BACKTEST: {{.StrategyID}} {{.Symbol}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:STRATEGY:    {{.StrategyID}}
:SYMBOL:      {{.Symbol}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" (mul100 .ReturnPct)}}
:MAX_DD_PCT:  {{printf "%.2f" (mul100 .MaxDDPct)}}
:SIGNALS:     {{.Signals}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:PROFIT_FAC:  {{if ne .ProfitFactor 0.0}}{{printf "%.2f" .ProfitFactor}}{{else}}(profit-factor?){{end}}
:CREATED:     [{{.Created.Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" (mul100 .ReturnPct)}}%*
- Max Drawdown:     *{{printf "%.2f" (mul100 .MaxDDPct)}}%*
- Sharpe:           *{{printf "%.3f" .Sharpe}}*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |

{{- if .TradeLog }}

** Trades
| Trade | Units | Entry | Exit | P/L | Reason |
|-------+-------+-------+------+-----+--------|
{{- range .TradeLog }}
| {{.TradeID}} | {{printf "%.4f" .Quantity}} | {{printf "%.4f" .EntryPrice}} | {{printf "%.4f" .ExitPrice}} | {{printf "%.2f" .RealizedPL}} | {{.Reason}} |
{{- end }}
{{- end }}

{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}

{{- if .NextActions }}

** Notes / Next Actions
{{- range .NextActions }}
- [ ] {{.}}
{{- end }}
{{- end }}
`
