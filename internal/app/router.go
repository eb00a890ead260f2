package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-payments/internal/auth"
	"github.com/noah-isme/toko-payments/internal/common"
	"github.com/noah-isme/toko-payments/internal/health"
	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/ratelimit"
	"github.com/noah-isme/toko-payments/internal/security"
)

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	Logger   zerolog.Logger
	Registry *payment.Registry
	Tokens   *auth.Tokens
	// Redis backs idempotency keys and the webhook replay guard. Nil disables both.
	Redis            *redis.Client
	WebhookLimiter   *limiter.Limiter
	Metrics          *obs.HTTPMetrics
	Health           health.Handler
	CORSOrigins      []string
	IdempotencyTTL   time.Duration
	ReplayTTL        time.Duration
	WebhookBodyLimit int64
	Tracing          bool
}

// NewRouter assembles the public API:
//
//	/api/v1/orders/{orderId}/payment          checkout: process, return
//	/api/v1/orders/{orderId}/payment/<op>     back-office: status, capture, void, refund, repay (bearer token)
//	/api/v1/webhooks/payment/{provider}[/{orderid}]
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{Enable: true, EnableHSTS: true}.Middleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)

	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	payments := &payment.Handler{Registry: cfg.Registry}
	webhook := payment.Webhook{
		Registry:  cfg.Registry,
		Replay:    cfg.Redis,
		ReplayTTL: cfg.ReplayTTL,
		Logger:    cfg.Logger,
	}
	var idem common.Idem
	if cfg.Redis != nil {
		idem = common.Idem{R: cfg.Redis, TTL: cfg.IdempotencyTTL}
	}
	operator := auth.Middleware{Tokens: cfg.Tokens, Scope: auth.ScopePaymentsAdmin}
	limited := ratelimit.Handler{
		Limiter: cfg.WebhookLimiter,
		Key:     ratelimit.ByPathParam(chi.URLParam, "provider"),
		OnError: func(err error) {
			cfg.Logger.Warn().Err(err).Msg("webhook rate limiter unavailable")
		},
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/orders/{orderId}/payment", func(p chi.Router) {
			p.Group(func(checkout chi.Router) {
				checkout.Use(security.CORS(cfg.CORSOrigins))
				checkout.With(idem.Middleware).Post("/", payments.Process)
				checkout.Get("/return", payments.Return)
				checkout.Post("/return", payments.Return)
			})
			p.Group(func(admin chi.Router) {
				admin.Use(operator.RequireAuth)
				admin.Get("/status", payments.Status)
				admin.With(idem.Middleware).Post("/capture", payments.Capture)
				admin.With(idem.Middleware).Post("/void", payments.Void)
				admin.With(idem.Middleware).Post("/refund", payments.Refund)
				admin.With(idem.Middleware).Post("/repay", payments.Repay)
			})
		})

		v.Group(func(wh chi.Router) {
			wh.Use(limited.Middleware)
			wh.Use(security.BodyLimit{Max: cfg.WebhookBodyLimit}.Middleware)
			wh.Post("/webhooks/payment/{provider}", webhook.Handle)
			wh.Post("/webhooks/payment/{provider}/{orderid}", webhook.Handle)
		})
	})
	return r
}
