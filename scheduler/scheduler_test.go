package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

const wait = 2 * time.Second

type recordingObserver struct {
	mu      sync.Mutex
	runs    map[string]int
	skips   map[string]int
	lastErr error
}

func (o *recordingObserver) JobRun(name string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = map[string]int{}
	}
	o.runs[name]++
	o.lastErr = err
}

func (o *recordingObserver) JobSkipped(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.skips == nil {
		o.skips = map[string]int{}
	}
	o.skips[name]++
}

func TestManualClockTicks(t *testing.T) {
	t.Parallel()

	c := NewManualClock(t0)
	tk := c.NewTicker(time.Minute)
	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticked early")
	default:
	}

	c.Advance(30 * time.Second)
	assert.Equal(t, t0.Add(time.Minute), <-tk.C())
	assert.Equal(t, t0.Add(time.Minute), c.Now())

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSchedulerRunsOnEachTick(t *testing.T) {
	t.Parallel()

	c := NewManualClock(t0)
	s := New(c, nil)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	var n atomic.Int32
	require.NoError(t, s.Add(Job{Name: "mark_to_market", Every: time.Minute, Run: func(context.Context) error {
		n.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	for i := 1; i <= 3; i++ {
		c.Advance(time.Minute)
		require.Eventually(t, func() bool { return s.Runs("mark_to_market") == int64(i) }, wait, time.Millisecond)
	}
	cancel()
	s.Wait()

	assert.EqualValues(t, 3, n.Load())
	obs.mu.Lock()
	assert.Equal(t, 3, obs.runs["mark_to_market"])
	obs.mu.Unlock()
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	c := NewManualClock(t0)
	s := New(c, nil)

	release := make(chan struct{})
	var started atomic.Int32
	require.NoError(t, s.Add(Job{Name: "stress_sweep", Every: time.Minute, Run: func(context.Context) error {
		started.Add(1)
		<-release
		return nil
	}}))
	var fast atomic.Int32
	require.NoError(t, s.Add(Job{Name: "evaluate", Every: time.Minute, Run: func(context.Context) error {
		fast.Add(1)
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	c.Advance(time.Minute)
	require.Eventually(t, func() bool { return started.Load() == 1 && fast.Load() == 1 }, wait, time.Millisecond)

	c.Advance(time.Minute)
	require.Eventually(t, func() bool { return s.Skipped("stress_sweep") == 1 && fast.Load() == 2 }, wait, time.Millisecond)
	assert.EqualValues(t, 1, started.Load())

	close(release)
	require.Eventually(t, func() bool { return s.Runs("stress_sweep") == 1 }, wait, time.Millisecond)
	cancel()
	s.Wait()
}

func TestSchedulerAddValidation(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	run := func(context.Context) error { return nil }
	assert.Error(t, s.Add(Job{Every: time.Second, Run: run}))
	assert.Error(t, s.Add(Job{Name: "x", Every: time.Second}))
	assert.Error(t, s.Add(Job{Name: "x", Run: run}))
	require.NoError(t, s.Add(Job{Name: "x", Every: time.Second, Run: run}))
	assert.Error(t, s.Add(Job{Name: "x", Every: time.Second, Run: run}))
}

func TestRunNow(t *testing.T) {
	t.Parallel()

	s := New(NewManualClock(t0), nil)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	require.NoError(t, s.Add(Job{Name: "panics", Every: time.Minute, Run: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, s.Add(Job{Name: "slow", Every: time.Minute, Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.NoError(t, s.Add(Job{Name: "fails", Every: time.Minute, Run: func(context.Context) error {
		return errors.New("metrics source down")
	}}))

	err := s.RunNow(context.Background(), "panics")
	assert.ErrorContains(t, err, "panicked")
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
	assert.EqualError(t, s.RunNow(context.Background(), "fails"), "metrics source down")
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	assert.EqualValues(t, 1, s.Runs("panics"))
	assert.Zero(t, s.Runs("missing"))
	obs.mu.Lock()
	assert.Equal(t, 3, len(obs.runs))
	obs.mu.Unlock()
}
