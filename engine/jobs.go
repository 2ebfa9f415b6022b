package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/scheduler"
)

// Cadences sets how often each duty runs. A zero cadence disables the job.
type Cadences struct {
	Evaluate     time.Duration `json:"evaluate" yaml:"evaluate"`
	MarkToMarket time.Duration `json:"mark_to_market" yaml:"mark_to_market"`
	Rebalance    time.Duration `json:"rebalance" yaml:"rebalance"`
	Metrics      time.Duration `json:"metrics" yaml:"metrics"`
	Stress       time.Duration `json:"stress" yaml:"stress"`
	Housekeeping time.Duration `json:"housekeeping" yaml:"housekeeping"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

func DefaultCadences() Cadences {
	return Cadences{
		Evaluate:     time.Minute,
		MarkToMarket: 5 * time.Second,
		Rebalance:    time.Hour,
		Metrics:      5 * time.Minute,
		Stress:       time.Hour,
		Housekeeping: time.Minute,
		BatchTimeout: 2 * time.Minute,
	}
}

// Job names.
const (
	JobEvaluate     = "evaluate"
	JobMarkToMarket = "mark_to_market"
	JobRebalance    = "rebalance"
	JobMetrics      = "metrics_refresh"
	JobStress       = "stress_sweep"
	JobHousekeeping = "housekeeping"
)

// Jobs returns the engine's duties for the scheduler. Batch jobs carry the
// batch timeout; the scheduler never lets one run delay another job.
func (e *Engine) Jobs(c Cadences) []scheduler.Job {
	all := []scheduler.Job{
		{Name: JobEvaluate, Every: c.Evaluate, Timeout: c.Evaluate, Run: func(ctx context.Context) error {
			cyc, err := e.EvaluateAll(ctx)
			e.log.Info("evaluation cycle",
				zap.Int64("evaluations", cyc.Evaluations),
				zap.Int64("signals", cyc.Signals),
				zap.Int64("approved", cyc.Approved),
				zap.Int64("rejected", cyc.Rejected),
				zap.Int64("errors", cyc.Errors))
			return err
		}},
		{Name: JobMarkToMarket, Every: c.MarkToMarket, Timeout: c.MarkToMarket, Run: e.MarkToMarket},
		{Name: JobRebalance, Every: c.Rebalance, Timeout: c.BatchTimeout, Run: e.Rebalance},
		{Name: JobMetrics, Every: c.Metrics, Timeout: c.BatchTimeout, Run: e.RefreshMetrics},
		{Name: JobStress, Every: c.Stress, Timeout: c.BatchTimeout, Run: e.StressSweep},
		{Name: JobHousekeeping, Every: c.Housekeeping, Run: e.Housekeeping},
	}
	out := all[:0]
	for _, j := range all {
		if j.Every > 0 {
			out = append(out, j)
		}
	}
	return out
}
