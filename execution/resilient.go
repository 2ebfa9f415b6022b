package execution

import (
	"context"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/internal/resilience"
)

// Resilient guards an OrderService with the resilience policy. Retried
// calls reuse the spec's ClientID, so the service sees them as the same
// order.
type Resilient struct {
	svc    OrderService
	policy *resilience.Policy
}

func NewResilient(svc OrderService, cfg resilience.Config, log *zap.Logger) *Resilient {
	return &Resilient{svc: svc, policy: resilience.New("execution", cfg, log)}
}

func (r *Resilient) CreateOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	if err := spec.Validate(); err != nil {
		return Order{}, err
	}
	return resilience.Do(ctx, r.policy, func(ctx context.Context) (Order, error) {
		return r.svc.CreateOrder(ctx, spec)
	})
}
