package strategies

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Catalog is a concurrency-safe strategy registry. Strategies are never
// removed, only deactivated. Readers always receive copies.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]*Strategy
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]*Strategy)}
}

// Register adds a strategy definition.
func (c *Catalog) Register(s Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	cp := s.clone()
	if cp.Parameters == nil {
		cp.Parameters = make(map[string]float64)
	}
	c.items[s.ID] = &cp
	return nil
}

func (c *Catalog) Get(id string) (Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[id]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.clone(), nil
}

// List returns every strategy ordered by id.
func (c *Catalog) List() []Strategy {
	return c.filter(func(*Strategy) bool { return true })
}

// Active returns active strategies ordered by id.
func (c *Catalog) Active() []Strategy {
	return c.filter(func(s *Strategy) bool { return s.Active })
}

func (c *Catalog) filter(keep func(*Strategy) bool) []Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Strategy, 0, len(c.items))
	for _, s := range c.items {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) SetActive(id string, active bool, at time.Time) error {
	return c.update(id, func(s *Strategy) error {
		s.Active = active
		s.UpdatedAt = at
		return nil
	})
}

func (c *Catalog) Deactivate(id string, at time.Time) error {
	return c.SetActive(id, false, at)
}

// TuneParameters merges params into the strategy's parameter map.
func (c *Catalog) TuneParameters(id string, params map[string]float64, at time.Time) error {
	return c.update(id, func(s *Strategy) error {
		for k, v := range params {
			s.Parameters[k] = v
		}
		s.UpdatedAt = at
		return nil
	})
}

// RecordTrade folds a closed trade's realized P&L into the rolling
// performance stats.
func (c *Catalog) RecordTrade(id string, pnl float64, at time.Time) error {
	return c.update(id, func(s *Strategy) error {
		p := &s.Performance
		p.Trades++
		switch {
		case pnl > 0:
			p.Wins++
		case pnl < 0:
			p.Losses++
		}
		p.TotalPnL += pnl
		p.AvgPnL = p.TotalPnL / float64(p.Trades)
		p.WinRate = float64(p.Wins) / float64(p.Trades)
		if p.TotalPnL > p.PeakPnL {
			p.PeakPnL = p.TotalPnL
		}
		if dd := p.PeakPnL - p.TotalPnL; dd > p.MaxDrawdown {
			p.MaxDrawdown = dd
		}
		p.LastTradeAt = at
		s.UpdatedAt = at
		return nil
	})
}

func (c *Catalog) update(id string, fn func(*Strategy) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(s)
}
