package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/toko-payments/internal/payment"
)

// ErrOrderExists is returned by Create when the order id is already taken.
var ErrOrderExists = errors.New("order already exists")

const uniqueViolation = "23505"

// Postgres persists orders as versioned JSONB documents and rebilling tokens in a keyed table.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres returns a store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new order. The stored version starts at zero.
func (p *Postgres) Create(ctx context.Context, order payment.Order) (payment.Order, error) {
	now := p.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 0
	if order.Status == "" {
		order.Status = payment.StatusUnfinished
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return payment.Order{}, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO payment_orders (id, customer_id, provider, status, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		order.ID, order.CustomerID, providerCode(order), string(order.Status), doc, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return payment.Order{}, fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
		}
		return payment.Order{}, fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return order, nil
}

// Get implements payment.OrderStore.
func (p *Postgres) Get(ctx context.Context, orderID string) (payment.Order, error) {
	var (
		doc     []byte
		version int64
	)
	err := p.pool.QueryRow(ctx, `SELECT document, version FROM payment_orders WHERE id = $1`, orderID).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Order{}, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return payment.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	var order payment.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return payment.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	order.Version = version
	return order, nil
}

// Save implements payment.OrderStore with an optimistic version check.
func (p *Postgres) Save(ctx context.Context, order payment.Order) (payment.Order, error) {
	expected := order.Version
	order.Version = expected + 1
	order.UpdatedAt = p.now()
	doc, err := json.Marshal(order)
	if err != nil {
		return payment.Order{}, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE payment_orders
		   SET document = $3, status = $4, customer_id = $5, provider = $6, version = version + 1, updated_at = $7
		 WHERE id = $1 AND version = $2`,
		order.ID, expected, doc, string(order.Status), order.CustomerID, providerCode(order), order.UpdatedAt)
	if err != nil {
		return payment.Order{}, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return payment.Order{}, fmt.Errorf("check order %s: %w", order.ID, err)
		}
		if !exists {
			return payment.Order{}, fmt.Errorf("%w: %s", payment.ErrOrderNotFound, order.ID)
		}
		return payment.Order{}, payment.ErrConcurrentUpdate
	}
	return order, nil
}

// ListStale returns ids and provider codes of orders in status not updated since before.
func (p *Postgres) ListStale(ctx context.Context, status payment.Status, before time.Time, limit int) ([]OrderRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, COALESCE(provider, '')
		  FROM payment_orders
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at
		 LIMIT $3`, string(status), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s orders: %w", status, err)
	}
	defer rows.Close()
	var out []OrderRef
	for rows.Next() {
		var ref OrderRef
		if err := rows.Scan(&ref.ID, &ref.Provider); err != nil {
			return nil, fmt.Errorf("scan order ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// GetToken implements payment.TokenStore.
func (p *Postgres) GetToken(ctx context.Context, customerID, provider string) (payment.Token, error) {
	var tok payment.Token
	err := p.pool.QueryRow(ctx, `
		SELECT token, expiry_month, expiry_year, updated_at
		  FROM payment_tokens
		 WHERE customer_id = $1 AND provider = $2`, customerID, provider).
		Scan(&tok.Value, &tok.ExpiryMonth, &tok.ExpiryYear, &tok.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Token{}, payment.ErrTokenNotFound
	}
	if err != nil {
		return payment.Token{}, fmt.Errorf("load token: %w", err)
	}
	return tok, nil
}

// SaveToken implements payment.TokenStore. Last write wins.
func (p *Postgres) SaveToken(ctx context.Context, customerID, provider string, tok payment.Token) error {
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = p.now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO payment_tokens (customer_id, provider, token, expiry_month, expiry_year, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (customer_id, provider) DO UPDATE
		   SET token = EXCLUDED.token,
		       expiry_month = EXCLUDED.expiry_month,
		       expiry_year = EXCLUDED.expiry_year,
		       updated_at = EXCLUDED.updated_at`,
		customerID, provider, tok.Value, tok.ExpiryMonth, tok.ExpiryYear, tok.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func providerCode(order payment.Order) string {
	svc, err := order.PaymentService()
	if err != nil {
		return ""
	}
	return svc.Code
}
