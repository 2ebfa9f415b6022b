package backtest

import (
	"fmt"
	"io"
	"time"
)

// Print writes a human readable report of r.
func Print(w io.Writer, r Result) {
	s := r.Summary
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Strategy:      %s\n", r.StrategyID)
	fmt.Fprintf(w, "Symbol:        %s\n", r.Symbol)
	if n := len(r.Equity); n > 0 {
		fmt.Fprintf(w, "Start:         %s\n", r.Equity[0].Time.Format(time.RFC3339))
		fmt.Fprintf(w, "End:           %s\n", r.Equity[n-1].Time.Format(time.RFC3339))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Signals:       %d\n", s.Signals)
	fmt.Fprintf(w, "Trades:        %d\n", s.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", s.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", s.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", s.WinRate*100)
	if s.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", s.ProfitFactor)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Equity:  %.2f\n", s.InitialEquity)
	fmt.Fprintf(w, "End Equity:    %.2f\n", s.FinalEquity)
	fmt.Fprintf(w, "Return:        %.2f%%\n", s.TotalReturn*100)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", s.MaxDrawdown*100)
	fmt.Fprintf(w, "Sharpe:        %.3f\n", s.Sharpe)

	if len(r.Trades) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Trades")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, t := range r.Trades {
			fmt.Fprintf(w, "- %s %-5s %.4f @ %.4f -> %.4f  pnl %.2f  (%s)\n",
				t.ID, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.Reason)
		}
	}
	fmt.Fprintln(w)
}
