package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	DefaultCurrency string
	DefaultStoreID  string
	TaxBps          int
	CartTTL         time.Duration
	PriceCacheTTL   time.Duration
	APIRatePerMin   int
	MigrateOnStart  bool

	MpesaConsumerKey   string
	MpesaShortCode     string
	MpesaWebhookSecret string
	MpesaBaseURL       string
	MpesaSandbox       bool

	PaystackSecretKey string
	PaystackBaseURL   string
	PaystackSandbox   bool

	PaymentIntentTTL    time.Duration
	PaymentExpiryEvery  time.Duration
	PaymentExpiryBatch  int
	RetryBase           time.Duration
	RetryMaxAttempts    int
	CircuitMinRequests  int
	CircuitFailureRate  float64
	CircuitOpenFor      time.Duration
	WebhookReplayTTL    time.Duration
	WebhookTimeout      time.Duration
	WebhookInsecureTLS  bool
	WebhookRatePerMin   int
	NotifyQueueName     string
	WorkerConcurrency   int
	EmailEnabled        bool
	EmailFrom           string
	LockTTL             time.Duration
	LockRetryBackoff    time.Duration
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBStatementCacheCap int
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
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "soko-identity"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "soko-api"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		DefaultCurrency: valueOrDefault(k.String("DEFAULT_CURRENCY"), "KES"),
		DefaultStoreID:  k.String("DEFAULT_STORE_ID"),
		TaxBps:          parseInt(k.String("TAX_BPS"), 0),
		CartTTL:         parseDuration(k.String("CART_TTL"), "72h"),
		PriceCacheTTL:   parseDuration(k.String("PRICE_CACHE_TTL"), "5m"),
		APIRatePerMin:   parseInt(k.String("API_RATE_PER_MIN"), 600),
		MigrateOnStart:  parseBool(k.String("MIGRATE_ON_START")),

		MpesaConsumerKey:   k.String("MPESA_CONSUMER_KEY"),
		MpesaShortCode:     k.String("MPESA_SHORT_CODE"),
		MpesaWebhookSecret: k.String("MPESA_WEBHOOK_SECRET"),
		MpesaBaseURL:       valueOrDefault(k.String("MPESA_BASE_URL"), "https://sandbox.safaricom.co.ke"),
		MpesaSandbox:       parseBool(valueOrDefault(k.String("MPESA_SANDBOX"), "true")),

		PaystackSecretKey: k.String("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:   valueOrDefault(k.String("PAYSTACK_BASE_URL"), "https://api.paystack.co"),
		PaystackSandbox:   parseBool(valueOrDefault(k.String("PAYSTACK_SANDBOX"), "true")),

		PaymentIntentTTL:    parseDuration(k.String("PAYMENT_INTENT_TTL"), "15m"),
		PaymentExpiryEvery:  parseDuration(k.String("PAYMENT_EXPIRY_EVERY"), "1m"),
		PaymentExpiryBatch:  parseInt(k.String("PAYMENT_EXPIRY_BATCH"), 100),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate:  parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookTimeout:      parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookInsecureTLS:  parseBool(k.String("WEBHOOK_INSECURE_TLS")),
		WebhookRatePerMin:   parseInt(k.String("WEBHOOK_RATE_PER_MIN"), 120),
		NotifyQueueName:     valueOrDefault(k.String("NOTIFY_QUEUE"), "notifications"),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 10),
		EmailEnabled:        parseBool(k.String("EMAIL_ENABLED")),
		EmailFrom:           valueOrDefault(k.String("EMAIL_FROM"), "orders@soko.example"),
		LockTTL:             parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:    parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		DBMaxOpenConns:      parseInt(k.String("DB_MAX_OPEN_CONNS"), 0),
		DBMaxIdleConns:      parseInt(k.String("DB_MAX_IDLE_CONNS"), 0),
		DBStatementCacheCap: parseInt(k.String("DB_STATEMENT_CACHE_CAPACITY"), -1),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TaxBps < 0 || cfg.TaxBps > 10_000 {
		return nil, errors.New("TAX_BPS must be between 0 and 10000")
	}

	return cfg, nil
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

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return f
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
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
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

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
