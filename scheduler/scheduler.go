// Package scheduler runs the engine's periodic duties. Each job has its own
// cadence and never overlaps itself; a slow job does not delay the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/pkg/logger"
)

// Job is a named periodic task. Timeout bounds one run; zero means the
// run is bounded only by the scheduler's context.
type Job struct {
	Name    string
	Every   time.Duration
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Observer is told about every finished or skipped run.
type Observer interface {
	JobRun(name string, took time.Duration, err error)
	JobSkipped(name string)
}

type jobState struct {
	Job
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

type Scheduler struct {
	clock Clock
	log   *zap.Logger
	obs   Observer

	mu   sync.Mutex
	jobs map[string]*jobState
	wg   sync.WaitGroup
}

func New(clock Clock, log *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, log: logger.OrNop(log), jobs: make(map[string]*jobState)}
}

// SetObserver registers o. Call before Start.
func (s *Scheduler) SetObserver(o Observer) { s.obs = o }

func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a run function")
	}
	if j.Every <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", j.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job %s", j.Name)
	}
	s.jobs[j.Name] = &jobState{Job: j}
	return nil
}

// Start launches one loop per job. Loops stop when ctx is done; Wait
// blocks until they and any in-flight runs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, js := range s.jobs {
		t := s.clock.NewTicker(js.Every)
		s.wg.Add(1)
		go s.loop(ctx, js, t)
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, js *jobState, t Ticker) {
	defer s.wg.Done()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !js.running.CompareAndSwap(false, true) {
				js.skipped.Add(1)
				s.log.Debug("job still running, tick skipped", zap.String("job", js.Name))
				if s.obs != nil {
					s.obs.JobSkipped(js.Name)
				}
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer js.running.Store(false)
				s.exec(ctx, js)
			}()
		}
	}
}

// RunNow runs the named job synchronously unless it is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %s", name)
	}
	if !js.running.CompareAndSwap(false, true) {
		js.skipped.Add(1)
		return fmt.Errorf("scheduler: job %s already running", name)
	}
	defer js.running.Store(false)
	return s.exec(ctx, js)
}

func (s *Scheduler) exec(ctx context.Context, js *jobState) (err error) {
	if js.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, js.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", js.Name, r)
		}
		js.runs.Add(1)
		took := time.Since(start)
		if err != nil {
			s.log.Error("job failed", zap.String("job", js.Name), zap.Duration("took", took), zap.Error(err))
		}
		if s.obs != nil {
			s.obs.JobRun(js.Name, took, err)
		}
	}()
	return js.Run(ctx)
}

// Runs reports how many times the named job has completed.
func (s *Scheduler) Runs(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.jobs[name]; ok {
		return js.runs.Load()
	}
	return 0
}

// Skipped reports how many ticks of the named job were dropped because
// the previous run had not finished.
func (s *Scheduler) Skipped(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.jobs[name]; ok {
		return js.skipped.Load()
	}
	return 0
}
