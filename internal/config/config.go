// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/entitlement"
	"github.com/mbd888/jobads/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Quota day boundary, as an offset from UTC
	QuotaOffset time.Duration

	// Listing caps
	PaidAdCap int
	SlotCaps  map[catalog.TierID]int

	// Operator notifications
	OperatorWebhookURLs []string
	WebhookSecret       string
	RedisURL            string

	// Card payments
	StripeWebhookSecret string

	// Operator bootstrap: an sk_ key granted to the root operator account
	AdminAPIKey string

	// Tracing (empty disables export)
	OTLPEndpoint     string
	TraceSampleRatio float64

	RateLimitRPM        int
	ExpirySweepInterval time.Duration

	// PendingDepositTTL is how long an unpaid bank-deposit order holds its
	// slots before the sweep cancels it. Zero disables the cutoff.
	PendingDepositTTL time.Duration
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultQuotaOffset         = "+09:00"
	DefaultPaidAdCap           = 5
	DefaultSlotCaps            = "NATIONAL=10,PREMIUM=30"
	DefaultRateLimit           = 120
	DefaultExpirySweepInterval = 5 * time.Minute
	DefaultPendingDepositTTL   = 72 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	offset, err := entitlement.ParseOffset(getEnv("QUOTA_UTC_OFFSET", DefaultQuotaOffset))
	if err != nil {
		return nil, fmt.Errorf("QUOTA_UTC_OFFSET: %w", err)
	}
	slots, err := ParseSlotCaps(getEnv("TIER_SLOT_CAPS", DefaultSlotCaps))
	if err != nil {
		return nil, fmt.Errorf("TIER_SLOT_CAPS: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		QuotaOffset:         offset,
		PaidAdCap:           getEnvInt("PAID_AD_CAP", DefaultPaidAdCap),
		SlotCaps:            slots,
		OperatorWebhookURLs: splitList(os.Getenv("OPERATOR_WEBHOOK_URLS")),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		RedisURL:            os.Getenv("REDIS_URL"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdminAPIKey:         os.Getenv("ADMIN_API_KEY"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", DefaultExpirySweepInterval),
		PendingDepositTTL:   getEnvDuration("PENDING_DEPOSIT_TTL", DefaultPendingDepositTTL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.PaidAdCap < 1 {
		return fmt.Errorf("PAID_AD_CAP must be at least 1")
	}
	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	if c.ExpirySweepInterval < time.Second {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be at least 1s")
	}
	if c.PendingDepositTTL < 0 {
		return fmt.Errorf("PENDING_DEPOSIT_TTL cannot be negative")
	}
	if c.AdminAPIKey != "" && (!strings.HasPrefix(c.AdminAPIKey, "sk_") || len(c.AdminAPIKey) < 35) {
		return fmt.Errorf("ADMIN_API_KEY must start with sk_ and carry at least 32 characters")
	}
	if c.IsProduction() && len(c.OperatorWebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in production when webhooks are configured")
	}
	for _, u := range c.OperatorWebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("OPERATOR_WEBHOOK_URLS: %q is not an http(s) URL", u)
		}
		if c.IsProduction() {
			if err := security.ValidateEndpointURL(u); err != nil {
				return fmt.Errorf("OPERATOR_WEBHOOK_URLS: %w", err)
			}
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseSlotCaps parses "TIER=N,TIER=N". Tiers must exist and be paid.
func ParseSlotCaps(s string) (map[catalog.TierID]int, error) {
	caps := make(map[catalog.TierID]int)
	for _, part := range splitList(s) {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want TIER=N", part)
		}
		tier, err := catalog.Lookup(catalog.TierID(strings.ToUpper(strings.TrimSpace(name))))
		if err != nil {
			return nil, err
		}
		if tier.IsFree() {
			return nil, fmt.Errorf("%s: free tier has no slot cap", tier.ID)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q: cap must be a positive integer", part)
		}
		caps[tier.ID] = n
	}
	return caps, nil
}

// Helper functions

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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
