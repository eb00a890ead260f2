package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-payments/internal/app"
	"github.com/noah-isme/toko-payments/internal/config"
	"github.com/noah-isme/toko-payments/internal/health"
	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/reconcile"
	"github.com/noah-isme/toko-payments/internal/resilience"
)

const (
	metricsNamespace = "toko_payments"
	// retryCeiling bounds the wait between two queries of the same order.
	retryCeiling = 30 * time.Minute
	sweepBatch   = 500
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "worker").
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegisterMetrics(metricsNamespace, nil)

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "toko-payments-worker",
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

	infra, err := app.OpenInfra(ctx, cfg, "worker", logger)
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
	queries := reconcile.Scheduler{
		Client:   taskClient,
		Delay:    cfg.ReconcileDelay,
		MaxRetry: cfg.ReconcileMaxRetry,
	}

	registry, err := app.BuildRegistry(cfg, app.Collaborators{
		Orders:     infra.Orders,
		Tokens:     infra.Orders,
		Locker:     app.Locker(cfg, infra.Redis),
		Events:     infra.Bus,
		Reconciler: queries,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build payment registry")
	}

	mux := asynq.NewServeMux()
	mux.Handle(reconcile.TypeQuery, reconcile.Handler{Registry: registry, Logger: logger})
	mux.Handle(reconcile.TypeSweep, reconcile.Sweeper{
		Orders:     infra.Orders,
		Reconciler: queries,
		Age:        cfg.ReconcileStaleAge,
		Limit:      sweepBatch,
		Logger:     logger,
	})

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{reconcile.Queue: 1},
		RetryDelayFunc:  reconcile.RetryDelay(cfg.ReconcileDelay, retryCeiling, 0.2),
		ErrorHandler:    reconcile.ErrorHandler(logger),
		Logger:          reconcile.Logger{Z: logger},
		ShutdownTimeout: 20 * time.Second,
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   reconcile.Logger{Z: logger},
	})
	entryID, err := scheduler.Register(cfg.ReconcileSweep, reconcile.NewSweepTask(),
		asynq.Queue(reconcile.Queue),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.ReconcileSweep).Msg("register sweep schedule")
	}
	logger.Info().Str("entry_id", entryID).Str("cron", cfg.ReconcileSweep).Msg("sweep scheduled")

	ops := chi.NewRouter()
	ops.Handle("/metrics", promhttp.Handler())
	checks := health.Handler{Checks: []health.Check{health.Postgres(infra.DB), health.Redis(infra.Redis)}}
	ops.Get("/health/live", checks.Live)
	ops.Get("/health/ready", checks.Ready)
	opsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: ops, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	logger.Info().Strs("providers", registry.Codes()).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("worker shutting down")

	scheduler.Shutdown()
	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown ops server")
	}
	logger.Info().Msg("worker shutdown complete")
}
