package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payments/internal/payment"
)

// Envelope is the wire form of a published status event.
type Envelope struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	OrderID     string    `json:"orderId"`
	Provider    string    `json:"provider"`
	Operation   string    `json:"operation"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Transaction string    `json:"transaction,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Sink delivers an encoded envelope somewhere.
type Sink interface {
	Deliver(ctx context.Context, env Envelope, payload []byte) error
}

// Bus encodes status events and fans them out to every sink.
type Bus struct {
	Sinks []Sink
}

// PublishStatus implements payment.EventPublisher. All sinks are attempted; failures are joined.
func (b *Bus) PublishStatus(ctx context.Context, evt payment.StatusEvent) error {
	if b == nil || len(b.Sinks) == 0 {
		return nil
	}
	if strings.TrimSpace(evt.OrderID) == "" {
		return errors.New("events: order id is required")
	}
	env := Envelope{
		ID:          uuid.NewString(),
		Topic:       StatusTopic(evt.To),
		OrderID:     evt.OrderID,
		Provider:    evt.Provider,
		Operation:   evt.Operation,
		From:        string(evt.From),
		To:          string(evt.To),
		Transaction: evt.Transaction,
		OccurredAt:  evt.OccurredAt,
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	var joined error
	for _, sink := range b.Sinks {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, env, payload); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: deliver %s: %w", env.Topic, err))
		}
	}
	return joined
}

// LogSink writes every event to the structured log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, env Envelope, _ []byte) error {
	s.Logger.Info().
		Str("topic", env.Topic).
		Str("order_id", env.OrderID).
		Str("provider", env.Provider).
		Str("from", env.From).
		Str("to", env.To).
		Msg("payment_event")
	return nil
}
