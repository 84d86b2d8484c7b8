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

// DefaultTZSMMPayBaseURL is the production processor host.
const DefaultTZSMMPayBaseURL = "https://tzsmmpay.com"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	PublicBaseURL      string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	TZSMMPay TZSMMPay

	WebhookRateLimit  int
	WebhookRateWindow time.Duration
	WebhookBodyLimit  int64
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration

	CircuitMinRequests int
	CircuitFailureRate float64
	CircuitOpenFor     time.Duration

	AdminJWTSecret   string
	AdminJWTIssuer   string
	AdminJWTAudience string

	AsynqEnabled     bool
	AsynqConcurrency int
}

// TZSMMPay captures the merchant-facing gateway settings.
type TZSMMPay struct {
	Enabled     bool
	Title       string
	Description string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	SuccessURL  string
	CancelURL   string
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
		PublicBaseURL:      strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		TZSMMPay: TZSMMPay{
			Enabled:     parseBool(valueOrDefault(k.String("TZSMMPAY_ENABLED"), "true")),
			Title:       valueOrDefault(k.String("TZSMMPAY_TITLE"), "TZSMM Pay"),
			Description: valueOrDefault(k.String("TZSMMPAY_DESCRIPTION"), "Pay securely via TZSMM Pay."),
			APIKey:      strings.TrimSpace(k.String("TZSMMPAY_API_KEY")),
			BaseURL:     strings.TrimRight(valueOrDefault(k.String("TZSMMPAY_BASE_URL"), DefaultTZSMMPayBaseURL), "/"),
			Timeout:     parseDuration(k.String("TZSMMPAY_TIMEOUT"), "45s"),
			SuccessURL:  strings.TrimSpace(k.String("TZSMMPAY_SUCCESS_URL")),
			CancelURL:   strings.TrimSpace(k.String("TZSMMPAY_CANCEL_URL")),
		},
		WebhookRateLimit:   parseInt(k.String("WEBHOOK_RATE_LIMIT"), 120),
		WebhookRateWindow:  parseDuration(k.String("WEBHOOK_RATE_WINDOW"), "1m"),
		WebhookBodyLimit:   int64(parseInt(k.String("WEBHOOK_BODY_LIMIT"), 16<<10)),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "90s"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		CircuitMinRequests: parseInt(k.String("CIRCUIT_TZSMMPAY_MIN_REQUESTS"), 10),
		CircuitFailureRate: parseFloat(k.String("CIRCUIT_TZSMMPAY_FAILURE_RATE"), 0.5),
		CircuitOpenFor:     parseDuration(k.String("CIRCUIT_TZSMMPAY_OPEN_FOR"), "30s"),
		AdminJWTSecret:     k.String("ADMIN_JWT_SECRET"),
		AdminJWTIssuer:     strings.TrimSpace(k.String("ADMIN_JWT_ISSUER")),
		AdminJWTAudience:   strings.TrimSpace(k.String("ADMIN_JWT_AUDIENCE")),
		AsynqEnabled:       parseBool(k.String("ASYNQ_ENABLED")),
		AsynqConcurrency:   parseInt(k.String("ASYNQ_CONCURRENCY"), 5),
	}

	if cfg.TZSMMPay.Enabled && cfg.TZSMMPay.APIKey == "" {
		return nil, errors.New("TZSMMPAY_API_KEY is required when the gateway is enabled")
	}
	if cfg.MigrateOnStart && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required when MIGRATE_ON_START is set")
	}
	if cfg.AsynqEnabled && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when ASYNQ_ENABLED is set")
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

// CallbackURL is the public webhook address handed to the processor.
func (c *Config) CallbackURL() string {
	return c.PublicBaseURL + "/api/v1/webhooks/payment/tzsmmpay"
}

// SuccessURL returns the page the shopper lands on after paying for ref.
func (c *Config) SuccessURL(ref string) string {
	if tpl := c.TZSMMPay.SuccessURL; tpl != "" {
		return strings.ReplaceAll(tpl, "{order}", ref)
	}
	return c.PublicBaseURL + "/orders/" + ref + "/received"
}

// CancelURL returns the checkout page the shopper goes back to on cancel.
func (c *Config) CancelURL() string {
	if c.TZSMMPay.CancelURL != "" {
		return c.TZSMMPay.CancelURL
	}
	return c.PublicBaseURL + "/checkout"
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
		return strings.TrimSpace(value)
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
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
