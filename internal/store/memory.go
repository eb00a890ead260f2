package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/toko-payments/internal/payment"
)

// OrderRef identifies an order and the provider code of its payment service.
type OrderRef struct {
	ID       string
	Provider string
}

// Memory is an in-process order and token store for local development and tests.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]payment.Order
	tokens map[string]payment.Token
	now    func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]payment.Order),
		tokens: make(map[string]payment.Token),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new order.
func (m *Memory) Create(_ context.Context, order payment.Order) (payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return payment.Order{}, fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
	}
	now := m.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 0
	if order.Status == "" {
		order.Status = payment.StatusUnfinished
	}
	m.orders[order.ID] = order.Clone()
	return order.Clone(), nil
}

func (m *Memory) Get(_ context.Context, orderID string) (payment.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[orderID]
	if !ok {
		return payment.Order{}, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, orderID)
	}
	return order.Clone(), nil
}

func (m *Memory) Save(_ context.Context, order payment.Order) (payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[order.ID]
	if !ok {
		return payment.Order{}, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, order.ID)
	}
	if current.Version != order.Version {
		return payment.Order{}, payment.ErrConcurrentUpdate
	}
	order.Version++
	order.UpdatedAt = m.now()
	m.orders[order.ID] = order.Clone()
	return order.Clone(), nil
}

// ListStale mirrors Postgres.ListStale.
func (m *Memory) ListStale(_ context.Context, status payment.Status, before time.Time, limit int) ([]OrderRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []payment.Order
	for _, order := range m.orders {
		if order.Status == status && order.UpdatedAt.Before(before) {
			matches = append(matches, order)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.Before(matches[j].UpdatedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]OrderRef, 0, len(matches))
	for _, order := range matches {
		out = append(out, OrderRef{ID: order.ID, Provider: providerCode(order)})
	}
	return out, nil
}

func (m *Memory) GetToken(_ context.Context, customerID, provider string) (payment.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[tokenKey(customerID, provider)]
	if !ok {
		return payment.Token{}, payment.ErrTokenNotFound
	}
	return tok, nil
}

func (m *Memory) SaveToken(_ context.Context, customerID, provider string, tok payment.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = m.now()
	}
	m.tokens[tokenKey(customerID, provider)] = tok
	return nil
}

func tokenKey(customerID, provider string) string {
	return customerID + "\x00" + provider
}
