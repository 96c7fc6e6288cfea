// Package config loads the billing core's configuration once at startup
// into an immutable record, the same getenv-with-default convention used
// across the platform's other services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every configuration key named in SPEC_FULL.md §6.
type Config struct {
	DatabaseURL string
	BotToken    string

	PaymentProvider  string // mock | robokassa
	RobokassaLogin   string
	RobokassaPass1   string
	RobokassaPass2   string
	RobokassaIsTest  bool
	WebhookBaseURL   string

	InvoiceTTL time.Duration
	APISecret  string

	RateLimitCalls  int
	RateLimitPeriod time.Duration

	LogLevel  string
	LogFormat string // json | standard

	SubscriptionRenewalDays      int
	SubscriptionRenewalPrice     string
	SubscriptionNotifyDays       []int
	SubscriptionGracePeriodDays  int

	ComputeServiceBaseURL string
	ComputeServiceAPIKey  string
	CostMultiplier        string

	BalanceNotifyThresholds []int
	OverdraftFloor          string

	RedisURL       string
	ClickHouseDSN  string
	OtelEndpoint   string
	MetricsAddr    string

	CircuitBreakerMaxRequests uint32
	CircuitBreakerTimeout     time.Duration
}

// Load reads configuration from the environment, applying the same
// defaults documented in SPEC_FULL.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		BotToken:    getEnv("BOT_TOKEN", ""),

		PaymentProvider: getEnv("PAYMENT_PROVIDER", "mock"),
		RobokassaLogin:  getEnv("ROBOKASSA_LOGIN", ""),
		RobokassaPass1:  getEnv("ROBOKASSA_PASSWORD1", ""),
		RobokassaPass2:  getEnv("ROBOKASSA_PASSWORD2", ""),
		RobokassaIsTest: getEnvBool("ROBOKASSA_IS_TEST", false),
		WebhookBaseURL:  getEnv("WEBHOOK_BASE_URL", ""),

		InvoiceTTL: getEnvDuration("INVOICE_TTL_HOURS", 24*time.Hour),
		APISecret:  getEnv("API_SECRET", ""),

		RateLimitCalls:  getEnvInt("RATE_LIMIT_CALLS", 60),
		RateLimitPeriod: getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		SubscriptionRenewalDays:     getEnvInt("SUBSCRIPTION_RENEWAL_DAYS", 30),
		SubscriptionRenewalPrice:    getEnv("SUBSCRIPTION_RENEWAL_PRICE", "0"),
		SubscriptionNotifyDays:      getEnvIntList("SUBSCRIPTION_NOTIFY_DAYS", []int{3, 1, 0}),
		SubscriptionGracePeriodDays: getEnvInt("SUBSCRIPTION_GRACE_PERIOD_DAYS", 0),

		ComputeServiceBaseURL: getEnv("COMPUTE_SERVICE_BASE_URL", ""),
		ComputeServiceAPIKey:  getEnv("COMPUTE_SERVICE_API_KEY", ""),
		CostMultiplier:        getEnv("COST_MULTIPLIER", "3.14"),

		BalanceNotifyThresholds: getEnvIntList("BALANCE_NOTIFY_THRESHOLDS", []int{50, 20, 10, 5}),
		OverdraftFloor:          getEnv("OVERDRAFT_FLOOR", "1000"),

		RedisURL:      getEnv("REDIS_URL", ""),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		OtelEndpoint:  getEnv("OTEL_EXPORTER_ENDPOINT", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		CircuitBreakerMaxRequests: uint32(getEnvInt("CIRCUIT_BREAKER_MAX_REQUESTS", 3)),
		CircuitBreakerTimeout:     getEnvDuration("CIRCUIT_BREAKER_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fails fast on missing required keys, mirroring the platform's
// existing startup checks.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.APISecret == "" {
		return fmt.Errorf("API_SECRET is required")
	}
	switch c.PaymentProvider {
	case "mock", "robokassa":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER must be one of mock, robokassa, got %q", c.PaymentProvider)
	}
	if c.PaymentProvider == "robokassa" {
		if c.RobokassaLogin == "" || c.RobokassaPass1 == "" || c.RobokassaPass2 == "" {
			return fmt.Errorf("ROBOKASSA_LOGIN, ROBOKASSA_PASSWORD1, ROBOKASSA_PASSWORD2 are required when PAYMENT_PROVIDER=robokassa")
		}
	}
	switch c.LogFormat {
	case "json", "standard":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of json, standard, got %q", c.LogFormat)
	}
	if c.InvoiceTTL <= 0 {
		return fmt.Errorf("INVOICE_TTL_HOURS must be positive")
	}
	if c.RateLimitCalls <= 0 || c.RateLimitPeriod <= 0 {
		return fmt.Errorf("RATE_LIMIT_CALLS and RATE_LIMIT_PERIOD must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// also accept a bare integer number of hours for *_HOURS keys
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Hour
		}
	}
	return defaultValue
}

func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, i)
	}
	return out
}
