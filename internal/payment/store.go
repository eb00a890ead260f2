package payment

import (
	"context"
	"time"
)

// OrderStore loads and persists orders. Save must fail with ErrConcurrentUpdate when the
// stored version differs from order.Version, and returns the order with its new version.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (Order, error)
	Save(ctx context.Context, order Order) (Order, error)
}

// Token is a stored rebilling credential.
type Token struct {
	Value       string    `json:"token"`
	ExpiryMonth int       `json:"month,omitempty"`
	ExpiryYear  int       `json:"year,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TokenStore keeps one token per customer and provider code. Last write wins.
type TokenStore interface {
	GetToken(ctx context.Context, customerID, provider string) (Token, error)
	SaveToken(ctx context.Context, customerID, provider string, token Token) error
}

// Locker serialises read-modify-write sequences on one order.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// EventPublisher receives every committed status transition.
type EventPublisher interface {
	PublishStatus(ctx context.Context, evt StatusEvent) error
}

// Reconciler schedules a later Query for an order whose outcome is still open.
type Reconciler interface {
	ScheduleQuery(ctx context.Context, provider, orderID string) error
}

// StatusEvent describes one committed transition.
type StatusEvent struct {
	OrderID     string    `json:"orderId"`
	Provider    string    `json:"provider"`
	Operation   string    `json:"operation"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Transaction string    `json:"transaction,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}
