package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/tradeguard/backtest"
	"github.com/rustyeddy/tradeguard/portfolio"
)

var (
	tradeHeader  = []string{"trade_id", "account_id", "strategy_id", "symbol", "units", "entry_price", "exit_price", "open_time", "close_time", "realized_pl", "reason"}
	equityHeader = []string{"time", "account_id", "balance", "equity", "margin_used", "free_margin", "margin_level"}
)

// CSVJournal writes trades and equity to a pair of CSV files. The backtest
// command uses it for spreadsheet-friendly output.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	j := &CSVJournal{trades: csv.NewWriter(tf), equity: csv.NewWriter(ef), tf: tf, ef: ef}
	if err := j.write(j.trades, tradeHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.write(j.equity, equityHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return j.write(j.trades, []string{
		t.TradeID,
		t.AccountID,
		t.StrategyID,
		t.Symbol,
		f(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.Format(time.RFC3339),
		t.CloseTime.Format(time.RFC3339),
		f(t.RealizedPL),
		t.Reason,
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return j.write(j.equity, []string{
		e.Time.Format(time.RFC3339),
		e.AccountID,
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.FreeMargin),
		f(e.MarginLevel),
	})
}

// WriteBacktest writes every trade and equity point of r.
func (j *CSVJournal) WriteBacktest(r backtest.Result) error {
	for _, t := range r.Trades {
		qty := t.Quantity
		if t.Side == portfolio.Short {
			qty = -qty
		}
		err := j.RecordTrade(TradeRecord{
			TradeID:    t.ID,
			StrategyID: r.StrategyID,
			Symbol:     t.Symbol,
			Quantity:   qty,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			OpenTime:   t.EntryTime,
			CloseTime:  t.ExitTime,
			RealizedPL: t.PnL,
			Reason:     t.Reason,
		})
		if err != nil {
			return err
		}
	}
	for _, p := range r.Equity {
		if err := j.RecordEquity(EquitySnapshot{Time: p.Time, Balance: p.Value, Equity: p.Value, FreeMargin: p.Value}); err != nil {
			return err
		}
	}
	return nil
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	j.equity.Flush()
	return errors.Join(j.trades.Error(), j.equity.Error(), j.tf.Close(), j.ef.Close())
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
