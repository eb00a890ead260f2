package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-payments/internal/app"
	"github.com/noah-isme/toko-payments/internal/auth"
	"github.com/noah-isme/toko-payments/internal/config"
	"github.com/noah-isme/toko-payments/internal/health"
	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/ratelimit"
	"github.com/noah-isme/toko-payments/internal/reconcile"
	"github.com/noah-isme/toko-payments/internal/resilience"
)

const metricsNamespace = "toko_payments"

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "api").
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegisterMetrics(metricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, nil, nil)

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "toko-payments-api",
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	infra, err := app.OpenInfra(ctx, cfg, "api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open infrastructure")
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Error().Err(err).Msg("close infrastructure")
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for task queue")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	registry, err := app.BuildRegistry(cfg, app.Collaborators{
		Orders: infra.Orders,
		Tokens: infra.Orders,
		Locker: app.Locker(cfg, infra.Redis),
		Events: infra.Bus,
		Reconciler: reconcile.Scheduler{
			Client:   taskClient,
			Delay:    cfg.ReconcileDelay,
			MaxRetry: cfg.ReconcileMaxRetry,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build payment registry")
	}

	tokens, err := auth.NewTokens(auth.TokensConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise operator tokens")
	}

	webhookLimiter, err := ratelimit.NewRedisLimiter(infra.Redis, "payments:webhook", cfg.WebhookRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise webhook rate limiter")
	}

	router := app.NewRouter(app.RouterConfig{
		Logger:           logger,
		Registry:         registry,
		Tokens:           tokens,
		Redis:            infra.Redis,
		WebhookLimiter:   webhookLimiter,
		Metrics:          httpMetrics,
		Health:           health.Handler{Checks: []health.Check{health.Postgres(infra.DB), health.Redis(infra.Redis)}},
		CORSOrigins:      cfg.CORSAllowedOrigins,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		ReplayTTL:        cfg.WebhookReplayTTL,
		WebhookBodyLimit: cfg.WebhookBodyLimit,
		Tracing:          true,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Strs("providers", registry.Codes()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	}

	health.SetReady(false)
	logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}
