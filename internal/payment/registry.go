package payment

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Registry resolves the orchestrator responsible for a provider code or an order.
type Registry struct {
	orders OrderStore
	byCode map[string]*Orchestrator
}

// NewRegistry creates an empty registry backed by orders for order lookups.
func NewRegistry(orders OrderStore) *Registry {
	return &Registry{orders: orders, byCode: make(map[string]*Orchestrator)}
}

// Register adds an orchestrator under its provider code.
func (r *Registry) Register(o *Orchestrator) error {
	code := normaliseCode(o.Config.Code)
	if code == "" {
		return fmt.Errorf("register provider: empty code")
	}
	if _, exists := r.byCode[code]; exists {
		return fmt.Errorf("register provider %q: already registered", code)
	}
	r.byCode[code] = o
	return nil
}

// ForProvider returns the orchestrator registered under code.
func (r *Registry) ForProvider(code string) (*Orchestrator, error) {
	o, ok := r.byCode[normaliseCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, code)
	}
	return o, nil
}

// ForOrder resolves the orchestrator from the code of the order's payment service.
func (r *Registry) ForOrder(ctx context.Context, orderID string) (*Orchestrator, error) {
	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	svc, err := order.PaymentService()
	if err != nil {
		return nil, preconditionError("resolve", orderID, err)
	}
	return r.ForProvider(svc.Code)
}

// Codes lists registered provider codes in sorted order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normaliseCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
