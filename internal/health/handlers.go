package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-payments/internal/common"
)

var draining atomic.Bool

// SetReady toggles readiness. Shutdown flips it off so load balancers drain the instance
// before the listener closes.
func SetReady(ready bool) { draining.Store(!ready) }

// Check is one named dependency probe.
type Check struct {
	Name    string
	Timeout time.Duration
	Probe   func(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool and store.Postgres.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Postgres probes the database connection pool.
func Postgres(p Pinger) Check {
	return Check{Name: "db", Timeout: 500 * time.Millisecond, Probe: p.Ping}
}

// Redis probes the Redis server backing locks, replay guards and the task queue.
func Redis(client redis.UniversalClient) Check {
	return Check{Name: "redis", Timeout: 300 * time.Millisecond, Probe: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checks []Check
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check and answers 503 when one fails or the instance is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if len(h.Checks) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no dependencies configured"})
		return
	}
	status := make(map[string]string, len(h.Checks))
	code := http.StatusOK
	for _, c := range h.Checks {
		if err := run(r.Context(), c); err != nil {
			status[c.Name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[c.Name] = "ok"
	}
	common.JSON(w, code, status)
}

func run(ctx context.Context, c Check) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Probe(ctx)
}
