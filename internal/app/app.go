package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payments/internal/config"
	"github.com/noah-isme/toko-payments/internal/events"
	"github.com/noah-isme/toko-payments/internal/gateway"
	"github.com/noah-isme/toko-payments/internal/lock"
	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/resilience"
	"github.com/noah-isme/toko-payments/internal/store"
)

// Infra is the process-wide infrastructure shared by the API and the worker.
type Infra struct {
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Orders *store.Postgres
	Bus    *events.Bus

	closers []func() error
}

// OpenInfra connects to Postgres and Redis, applies migrations and builds the event bus.
// The returned Infra must be closed by the caller.
func OpenInfra(ctx context.Context, cfg *config.Config, component string, logger zerolog.Logger) (*Infra, error) {
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	pool, err := OpenDatabase(ctx, cfg.DatabaseURL, component)
	if err != nil {
		return nil, err
	}
	infra := &Infra{DB: pool, Orders: store.NewPostgres(pool)}
	infra.closers = append(infra.closers, func() error { pool.Close(); return nil })

	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	infra.Redis = rdb
	infra.closers = append(infra.closers, rdb.Close)

	infra.Bus = &events.Bus{Sinks: []events.Sink{events.LogSink{Logger: logger}}}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, logger)
		sink := events.KafkaSink{Writer: writer, Timeout: 5 * time.Second}
		infra.Bus.Sinks = append(infra.Bus.Sinks, sink)
		infra.closers = append(infra.closers, sink.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka status events enabled")
	}
	return infra, nil
}

// Close releases connections in reverse order of acquisition.
func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var joined error
	for n := len(i.closers) - 1; n >= 0; n-- {
		joined = errors.Join(joined, i.closers[n]())
	}
	i.closers = nil
	return joined
}

// OpenDatabase builds a traced pgx pool and pings it.
func OpenDatabase(ctx context.Context, url, component string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-payments-" + component

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects to Redis with tracing and metrics instrumentation.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Collaborators are the shared services every orchestrator is built with.
type Collaborators struct {
	Orders     payment.OrderStore
	Tokens     payment.TokenStore
	Locker     payment.Locker
	Events     payment.EventPublisher
	Reconciler payment.Reconciler
	Logger     zerolog.Logger
}

// BuildRegistry creates one orchestrator per configured provider.
func BuildRegistry(cfg *config.Config, c Collaborators) (*payment.Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("no payment providers configured")
	}
	registry := payment.NewRegistry(c.Orders)
	for _, p := range cfg.Providers {
		client, err := newGatewayClient(cfg, p, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Payment.Code, err)
		}
		profile := p.Profile
		if strings.TrimSpace(profile) == "" {
			profile = p.Payment.Type
		}
		o := &payment.Orchestrator{
			Config:     p.Payment,
			Provider:   payment.ProfileFor(profile),
			Client:     client,
			Orders:     c.Orders,
			Tokens:     c.Tokens,
			Locker:     c.Locker,
			LockTTL:    cfg.LockTTL,
			Events:     c.Events,
			Reconciler: c.Reconciler,
			Logger:     c.Logger.With().Str("provider", p.Payment.Code).Logger(),
		}
		if err := registry.Register(o); err != nil {
			return nil, err
		}
		c.Logger.Info().
			Str("provider", p.Payment.Code).
			Str("type", p.Payment.Type).
			Str("profile", o.Provider.Name).
			Strs("capabilities", o.Capabilities().Names()).
			Bool("testmode", p.Payment.TestMode).
			Msg("payment provider registered")
	}
	return registry, nil
}

func newGatewayClient(cfg *config.Config, p config.Provider, logger zerolog.Logger) (payment.GatewayClient, error) {
	signature := gateway.Signature{
		Header:    p.SignatureHeader,
		Secret:    p.SignatureSecret,
		Algorithm: p.SignatureAlgo,
	}
	if p.IsDummy() {
		if !p.Payment.TestMode {
			return nil, errors.New("dummy gateway only runs in test mode")
		}
		// endpoint doubles as the hosted page of the dummy gateway
		dummy := gateway.NewDummy(p.Endpoint)
		dummy.Signature = signature
		return dummy, nil
	}
	caps, unknown := payment.ParseCapabilities(p.Capabilities)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown capabilities %s", strings.Join(unknown, ","))
	}
	return gateway.NewHTTPClient(gateway.HTTPConfig{
		Name:         p.Payment.Code,
		Endpoint:     p.Endpoint,
		Capabilities: caps,
		Credentials:  p.Payment.Credentials,
		Timeout:      cfg.GatewayTimeout,
		Breaker:      resilience.NewBreaker(cfg.BreakerMinReq, cfg.BreakerFailRatio, cfg.BreakerOpenFor).WithLogger(logger),
		Signature:    signature,
	})
}

// Locker returns the Redis order lock configured from cfg. Without a Redis client the
// lock only serialises callers inside this process.
func Locker(cfg *config.Config, rdb *redis.Client) payment.Locker {
	if rdb == nil {
		return &lock.Local{}
	}
	return lock.Redis{Client: rdb, Retry: 50 * time.Millisecond, Wait: cfg.LockWait}
}
