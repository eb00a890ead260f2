package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// TypeQuery polls the gateway for one order.
	TypeQuery = "payment:query"
	// TypeSweep lists stale PENDING orders and schedules a query for each.
	TypeSweep = "payment:sweep"

	// Queue is the asynq queue reconciliation tasks run on.
	Queue = "payments"
)

var errInvalidPayload = errors.New("invalid reconcile payload")

// QueryPayload is the body of a TypeQuery task.
type QueryPayload struct {
	Provider string `json:"provider"`
	OrderID  string `json:"orderId"`
}

// NewQueryTask encodes a query task for the order.
func NewQueryTask(provider, orderID string) (*asynq.Task, error) {
	provider = strings.TrimSpace(provider)
	orderID = strings.TrimSpace(orderID)
	if provider == "" || orderID == "" {
		return nil, fmt.Errorf("%w: provider and order id are required", errInvalidPayload)
	}
	body, err := json.Marshal(QueryPayload{Provider: provider, OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeQuery, body), nil
}

// NewSweepTask returns the periodic sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweep, nil)
}

// queryTaskID dedupes scheduled queries per order while one is still queued.
func queryTaskID(provider, orderID string) string {
	return TypeQuery + ":" + strings.ToLower(provider) + ":" + orderID
}

func decodeQuery(t *asynq.Task) (QueryPayload, error) {
	var p QueryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return QueryPayload{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if p.Provider == "" || p.OrderID == "" {
		return QueryPayload{}, fmt.Errorf("%w: provider and order id are required", errInvalidPayload)
	}
	return p, nil
}
