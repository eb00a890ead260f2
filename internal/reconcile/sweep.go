package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/store"
)

// StaleLister finds orders stuck in a status.
type StaleLister interface {
	ListStale(ctx context.Context, status payment.Status, before time.Time, limit int) ([]store.OrderRef, error)
}

// Sweeper catches PENDING orders whose scheduled query was lost or exhausted.
type Sweeper struct {
	Orders     StaleLister
	Reconciler payment.Reconciler
	// Age is how long an order must sit in PENDING before it is swept.
	Age    time.Duration
	Limit  int
	Logger zerolog.Logger
	Now    func() time.Time
}

// ProcessTask implements asynq.Handler for TypeSweep.
func (s Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep schedules a query for every stale PENDING order and reports how many were scheduled.
func (s Sweeper) Sweep(ctx context.Context) (int, error) {
	age := s.Age
	if age <= 0 {
		age = 15 * time.Minute
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	refs, err := s.Orders.ListStale(ctx, payment.StatusPending, now.Add(-age), s.Limit)
	if err != nil {
		return 0, err
	}
	var (
		scheduled int
		errs      []error
	)
	for _, ref := range refs {
		if ref.Provider == "" {
			s.Logger.Warn().Str("order_id", ref.ID).Msg("payment_sweep_no_provider")
			continue
		}
		if err := s.Reconciler.ScheduleQuery(ctx, ref.Provider, ref.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		s.Logger.Info().Int("scheduled", scheduled).Msg("payment_sweep_scheduled")
	}
	return scheduled, errors.Join(errs...)
}
