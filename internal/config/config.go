package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/toko-payments/internal/payment"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string `validate:"required"`
	RedisURL           string `validate:"required"`
	CORSAllowedOrigins []string
	LogFormat          string
	LogLevel           string

	TracingExporter string
	TracingEndpoint string
	TracingSampling float64

	JWTSecret   string `validate:"required"`
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	KafkaBrokers []string

	LockTTL  time.Duration
	LockWait time.Duration

	IdempotencyTTL    time.Duration
	WebhookReplayTTL  time.Duration
	WebhookBodyLimit  int64
	WebhookRateLimit  string
	GatewayTimeout    time.Duration
	BreakerMinReq     int
	BreakerFailRatio  float64
	BreakerOpenFor    time.Duration
	ReconcileDelay    time.Duration
	ReconcileMaxRetry int
	ReconcileSweep    string
	ReconcileStaleAge time.Duration
	WorkerConcurrency int
	// WorkerMetricsAddr is where the worker serves /metrics and health probes.
	WorkerMetricsAddr string

	Providers []Provider `validate:"dive"`
}

// Provider is one configured payment provider: the orchestrator settings plus gateway wiring.
type Provider struct {
	Payment payment.Config
	// Profile selects the request builder and status code table; defaults to Payment.Type.
	Profile string
	// Endpoint is the base URL of the gateway adapter. Unused for the dummy gateway.
	Endpoint        string `validate:"omitempty,url"`
	Capabilities    []string
	SignatureSecret string
	SignatureHeader string
	SignatureAlgo   string `validate:"omitempty,oneof=sha256 sha512"`
}

// IsDummy reports whether the provider runs on the in-process test gateway.
func (p Provider) IsDummy() bool {
	return strings.EqualFold(p.Payment.Type, "dummy")
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LogFormat:          valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		TracingExporter:    valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		TracingEndpoint:    k.String("OBS_TRACING_ENDPOINT"),
		TracingSampling:    parseFloat(k.String("OBS_TRACING_SAMPLING"), 1),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "toko-payments"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "back-office"),
		JWTTTL:             parseDuration(k.String("JWT_TTL"), "15m"),
		KafkaBrokers:       splitAndTrim(k.String("KAFKA_BROKERS")),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "30s"),
		LockWait:           parseDuration(k.String("LOCK_WAIT"), "10s"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookBodyLimit:   int64(atoiDefault(k.String("WEBHOOK_BODY_LIMIT"), 1<<20)),
		WebhookRateLimit:   valueOrDefault(k.String("WEBHOOK_RATE_LIMIT"), "600-M"),
		GatewayTimeout:     parseDuration(k.String("GATEWAY_TIMEOUT"), "15s"),
		BreakerMinReq:      atoiDefault(k.String("CIRCUIT_GATEWAY_MIN_REQ"), 10),
		BreakerFailRatio:   parseFloat(k.String("CIRCUIT_GATEWAY_FAILURE_RATE"), 0.5),
		BreakerOpenFor:     parseDuration(k.String("CIRCUIT_GATEWAY_OPEN_FOR"), "30s"),
		ReconcileDelay:     parseDuration(k.String("RECONCILE_DELAY"), "1m"),
		ReconcileMaxRetry:  atoiDefault(k.String("RECONCILE_MAX_RETRY"), 8),
		ReconcileSweep:     valueOrDefault(k.String("RECONCILE_SWEEP_CRON"), "@every 10m"),
		ReconcileStaleAge:  parseDuration(k.String("RECONCILE_STALE_AGE"), "30m"),
		WorkerConcurrency:  atoiDefault(k.String("WORKER_CONCURRENCY"), 10),
		WorkerMetricsAddr:  valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),
	}

	providers, err := loadProviders(k)
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, errors.New("PAYMENT_PROVIDERS is required")
	}
	return cfg, nil
}

// loadProviders reads PAYMENT_PROVIDERS and the PAYMENT_<CODE>_* keys of each entry.
func loadProviders(k *koanf.Koanf) ([]Provider, error) {
	codes := splitAndTrim(k.String("PAYMENT_PROVIDERS"))
	out := make([]Provider, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = strings.ToLower(code)
		if seen[code] {
			return nil, fmt.Errorf("PAYMENT_PROVIDERS: duplicate provider %q", code)
		}
		seen[code] = true

		prefix := "PAYMENT_" + strings.ToUpper(code) + "_"
		get := func(key string) string { return strings.TrimSpace(k.String(prefix + key)) }

		p := Provider{
			Payment: payment.Config{
				Code:        code,
				Type:        strings.ToLower(valueOrDefault(get("TYPE"), code)),
				TestMode:    parseBool(get("TESTMODE")),
				Onsite:      parseBool(get("ONSITE")),
				Address:     parseBool(get("ADDRESS")),
				Authorize:   parseBool(get("AUTHORIZE")),
				CreateToken: parseBool(get("CREATETOKEN")),
				ClientIP:    parseBool(get("CLIENTIP")),
				ReturnURL:   get("RETURNURL"),
				CancelURL:   get("CANCELURL"),
				NotifyURL:   get("NOTIFYURL"),
				Credentials: credentials(k, prefix+"CRED_"),
			},
			Endpoint:        get("ENDPOINT"),
			Capabilities:    splitAndTrim(get("CAPABILITIES")),
			SignatureSecret: get("SIGNATURE_SECRET"),
			SignatureHeader: get("SIGNATURE_HEADER"),
			SignatureAlgo:   strings.ToLower(get("SIGNATURE_ALGORITHM")),
		}
		p.Profile = strings.ToLower(valueOrDefault(get("PROFILE"), p.Payment.Type))
		if !p.IsDummy() && p.Endpoint == "" {
			return nil, fmt.Errorf("%sENDPOINT is required", prefix)
		}
		if _, unknown := payment.ParseCapabilities(p.Capabilities); len(unknown) > 0 {
			return nil, fmt.Errorf("%sCAPABILITIES: unknown %s", prefix, strings.Join(unknown, ","))
		}
		if err := p.Payment.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// credentials collects <prefix>MERCHANT_ID style keys into {"merchantId": ...}.
func credentials(k *koanf.Koanf, prefix string) map[string]string {
	var keys []string
	for _, key := range k.Keys() {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[lowerCamel(strings.TrimPrefix(key, prefix))] = k.String(key)
	}
	return out
}

func lowerCamel(snake string) string {
	parts := strings.Split(strings.ToLower(snake), "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(part[:1]))
			b.WriteString(part[1:])
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func atoiDefault(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
