package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/resilience"
)

// ErrStillPending makes asynq retry the query later.
var ErrStillPending = errors.New("payment still pending")

// Resolver returns the orchestrator responsible for a provider code.
type Resolver interface {
	ForProvider(code string) (*payment.Orchestrator, error)
}

// Handler runs TypeQuery tasks against the provider's orchestrator.
type Handler struct {
	Registry Resolver
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodeQuery(t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger := h.Logger.With().
		Str("order_id", p.OrderID).
		Str("provider", p.Provider).
		Logger()
	if retried, ok := asynq.GetRetryCount(ctx); ok {
		logger = logger.With().Int("attempt", retried+1).Logger()
	}

	orch, err := h.Registry.ForProvider(p.Provider)
	if err != nil {
		h.count(p.Provider, "unknown_provider")
		logger.Error().Err(err).Msg("payment_reconcile_skipped")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	order, err := orch.Query(ctx, p.OrderID)
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrOrderNotFound), payment.KindOf(err) == payment.KindPrecondition:
		h.count(p.Provider, "skipped")
		logger.Warn().Err(err).Msg("payment_reconcile_skipped")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	default:
		h.count(p.Provider, "error")
		logger.Warn().Err(err).Msg("payment_reconcile_failed")
		return err
	}

	if order.Status == payment.StatusPending {
		h.count(p.Provider, "pending")
		logger.Debug().Msg("payment_reconcile_pending")
		return ErrStillPending
	}
	h.count(p.Provider, "resolved")
	logger.Info().Str("status", string(order.Status)).Msg("payment_reconcile_resolved")
	return nil
}

func (h Handler) count(provider, result string) {
	if obs.PaymentReconcileTotal != nil {
		obs.PaymentReconcileTotal.WithLabelValues(provider, result).Inc()
	}
}

// RetryDelay returns an asynq.RetryDelayFunc with exponential backoff capped at ceiling.
func RetryDelay(base, ceiling time.Duration, jitter float64) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return resilience.CappedBackoff(base, ceiling, n+1, jitter)
	}
}
