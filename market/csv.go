package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVSource replays OHLCV files as a DataSource. Each symbol has its own bar
// series; a shared cursor marks "now" so quotes and history never look past
// the current bar.
//
// Expected columns: time,open,high,low,close,volume. Time may be RFC3339 or
// unix seconds. A header row is skipped.
type CSVSource struct {
	mu     sync.RWMutex
	bars   map[string][]Candle
	cursor int
}

func NewCSVSource() *CSVSource {
	return &CSVSource{bars: make(map[string][]Candle)}
}

// LoadFile reads bars for symbol from path.
func (s *CSVSource) LoadFile(symbol, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return s.Load(symbol, f)
}

// Load reads bars for symbol from r.
func (s *CSVSource) Load(symbol string, r io.Reader) error {
	bars, err := ReadCandlesCSV(r)
	if err != nil {
		return fmt.Errorf("load %s: %w", symbol, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = bars
	return nil
}

// Set installs bars directly.
func (s *CSVSource) Set(symbol string, bars []Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = append([]Candle(nil), bars...)
}

// Seek moves the cursor to bar index i.
func (s *CSVSource) Seek(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = i
}

// Advance moves the cursor one bar forward. It returns false once every
// series is exhausted.
func (s *CSVSource) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	for _, b := range s.bars {
		if s.cursor < len(b) {
			return true
		}
	}
	return false
}

// Symbols lists loaded symbols.
func (s *CSVSource) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		out = append(out, sym)
	}
	return out
}

func (s *CSVSource) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars, ok := s.bars[symbol]
	if !ok || len(bars) == 0 {
		return Quote{}, fmt.Errorf("csv source: %w: %s", ErrNoQuote, symbol)
	}
	i := s.cursor
	if i >= len(bars) {
		i = len(bars) - 1
	}
	b := bars[i]
	return Quote{Symbol: symbol, Bid: b.Close, Ask: b.Close, Last: b.Close, Volume: b.Volume, Time: b.Time}, nil
}

// GetHistoricalData returns bars in [from, to] up to and including the
// cursor. timeframe is informational; files hold a single bar size.
func (s *CSVSource) GetHistoricalData(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars, ok := s.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("csv source: no data for %s", symbol)
	}
	out := make([]Candle, 0, len(bars))
	for i, b := range bars {
		if i > s.cursor {
			break
		}
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && b.Time.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// GetMarketSentiment returns no readings; files carry no sentiment.
func (s *CSVSource) GetMarketSentiment(ctx context.Context) (map[string]SentimentScore, error) {
	return map[string]SentimentScore{}, nil
}

// ReadCandlesCSV parses an OHLCV CSV stream.
func ReadCandlesCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Candle
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}
		c, err := parseCandle(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCandle(rec []string) (Candle, error) {
	ts, err := parseTime(strings.TrimSpace(rec[0]))
	if err != nil {
		return Candle{}, err
	}
	vals := make([]float64, 5)
	for i := 1; i < len(rec) && i <= 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("column %d: %w", i, err)
		}
		vals[i-1] = v
	}
	return Candle{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return time.Unix(secs, 0).UTC(), nil
}
