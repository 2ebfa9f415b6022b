// Package resilience wraps collaborator calls with a rate limit, a per
// attempt timeout, retry with exponential backoff and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradeguard/internal/errs"
	"github.com/rustyeddy/tradeguard/pkg/logger"
)

type Config struct {
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	MaxElapsed      time.Duration `json:"max_elapsed" yaml:"max_elapsed"`
	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32        `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
	// RatePerSecond <= 0 disables rate limiting.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `json:"burst" yaml:"burst"`
}

func Default() Config {
	return Config{
		Timeout:         2 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		RatePerSecond:   20,
		Burst:           5,
	}
}

// Policy is the protection around one collaborator. It is safe for
// concurrent use.
type Policy struct {
	name    string
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(name string, cfg Config, log *zap.Logger) *Policy {
	log = logger.OrNop(log).With(zap.String("collaborator", name))
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = Default().BreakerFailures
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// Caller mistakes say nothing about the collaborator's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errs.Retryable(err)
		},
	})

	return &Policy{
		name:    name,
		cfg:     cfg,
		breaker: cb,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

func (p *Policy) Name() string { return p.name }

// State returns the breaker state: closed, half-open or open.
func (p *Policy) State() string { return p.breaker.State().String() }

// Do runs op under p. Validation and rejection errors return at once;
// anything else is retried, and the final failure is reported as an
// external service error.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, errs.External(p.name, err)
	}

	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialInterval > 0 {
		b.InitialInterval = p.cfg.InitialInterval
	}
	if p.cfg.MaxInterval > 0 {
		b.MaxInterval = p.cfg.MaxInterval
	}

	attempt := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		res, err := p.breaker.Execute(func() (interface{}, error) {
			actx, cancel := p.attemptContext(ctx)
			defer cancel()
			return op(actx)
		})
		if err == nil {
			v, _ := res.(T)
			return v, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !errs.Retryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(p.cfg.MaxRetries, 0) + 1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.log.Debug("retrying", zap.Error(err), zap.Duration("wait", wait))
		}),
	}
	if p.cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.cfg.MaxElapsed))
	}

	v, err := backoff.Retry(ctx, attempt, opts...)
	if err != nil {
		if !errs.Retryable(err) {
			return zero, err
		}
		p.log.Warn("call failed", zap.Error(err))
		return zero, errs.External(p.name, err)
	}
	return v, nil
}

func (p *Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, p.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
