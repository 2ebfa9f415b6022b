package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/api"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/engine"
	"github.com/rustyeddy/tradeguard/events"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/obs"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/risk"
	"github.com/rustyeddy/tradeguard/scheduler"
	"github.com/rustyeddy/tradeguard/signals"
	"github.com/rustyeddy/tradeguard/store"
	"github.com/rustyeddy/tradeguard/strategies"
	"github.com/rustyeddy/tradeguard/stress"
)

// app is a fully wired engine with its scheduler and sinks.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	src     *market.CSVSource
	clock   func() time.Time
	book    *portfolio.Book
	catalog *strategies.Catalog
	kv      store.KV
	bus     *events.Bus
	journal *journal.SQLite
	metrics *obs.Metrics
	alerts  *alerts.Manager
	engine  *engine.Engine
	sched   *scheduler.Scheduler
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, metrics: obs.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	cfg.RegisterInstruments()

	a.src = market.NewCSVSource()
	for sym := range cfg.Market.Files {
		if err := a.src.LoadFile(sym, cfg.Market.Path(sym)); err != nil {
			return nil, err
		}
	}
	a.clock = replayClock(a.src)
	data := market.NewResilient(a.src, cfg.Resilience, log)

	if cfg.Redis.Addr != "" {
		r, err := store.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.kv = r
	} else {
		a.kv = store.NewMemory()
	}
	a.closers = append(a.closers, a.kv.Close)

	sinks := []events.Publisher{events.KVPublisher{KV: a.kv}}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafkaPublisher(cfg.Kafka, log)
		sinks = append(sinks, k)
		a.closers = append(a.closers, k.Close)
	}
	a.bus = events.NewBus(1024, log, sinks...)

	var rec engine.Recorder
	var alertRec alerts.Recorder
	if cfg.Journal.Type == "sqlite" {
		j, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
		a.closers = append(a.closers, j.Close)
		rec, alertRec = j, j
	}

	a.book = portfolio.NewBook(log)
	for _, acct := range cfg.Accounts {
		if err := a.book.AddAccount(acct); err != nil {
			return nil, err
		}
	}
	history := portfolio.NewHistory(cfg.Engine.ReturnsWindow)

	a.catalog = strategies.NewCatalog()
	for _, s := range cfg.Strategies {
		if err := a.catalog.Register(s); err != nil {
			return nil, err
		}
	}
	profiles := cfg.Profiles()

	gate := risk.NewGate(a.book, profiles, history,
		risk.WithReturns(engine.MarketReturns{Source: data, Window: cfg.Engine.ReturnsWindow, Clock: a.clock}),
		risk.WithLogger(log),
		risk.WithClock(a.clock),
	)

	paper := execution.NewPaper(data, log)
	paper.SetClock(a.clock)
	orders := execution.NewResilient(paper, cfg.Resilience, log)

	stressEng := stress.NewEngine(log)
	stressEng.SetClock(a.clock)
	for _, s := range cfg.Scenarios {
		if err := stressEng.Register(s); err != nil {
			return nil, err
		}
	}

	a.alerts = alerts.NewManager(alerts.Options{
		Publisher: a.bus,
		KV:        a.kv,
		Keep:      cfg.Engine.HistoryKeep,
		Recorder:  alertRec,
		Observer:  a.metrics,
	}, log)
	a.alerts.SetClock(a.clock)

	a.engine, err = engine.New(cfg.Engine, engine.Deps{
		Market:   data,
		Catalog:  a.catalog,
		Registry: signals.NewRegistry(),
		Gate:     gate,
		Book:     a.book,
		History:  history,
		Profiles: profiles,
		Orders:   orders,
		Stress:   stressEng,
		Alerts:   a.alerts,
		Events:   a.bus,
		KV:       a.kv,
		Journal:  rec,
		Metrics:  a.metrics,
		Clock:    a.clock,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}

	a.sched = scheduler.New(nil, log)
	a.sched.SetObserver(a.metrics)
	for _, j := range a.engine.Jobs(cfg.Scheduler) {
		if err := a.sched.Add(j); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// server is the ops API over the app's state.
func (a *app) server() *api.Server {
	return &api.Server{
		Alerts:  a.alerts,
		Book:    a.book,
		Catalog: a.catalog,
		KV:      a.kv,
		Metrics: a.metrics,
		Log:     a.log,
	}
}

// Close releases sinks in reverse order of creation.
func (a *app) Close() error {
	if a.bus != nil {
		a.bus.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// replayClock reports the latest bar time at the replay cursor, so signals,
// gate checks and trading-hours rules see market time rather than wall time.
func replayClock(src *market.CSVSource) func() time.Time {
	return func() time.Time {
		syms := src.Symbols()
		sort.Strings(syms)
		var now time.Time
		for _, s := range syms {
			q, err := src.GetQuote(context.Background(), s)
			if err == nil && q.Time.After(now) {
				now = q.Time
			}
		}
		if now.IsZero() {
			return time.Now()
		}
		return now
	}
}
