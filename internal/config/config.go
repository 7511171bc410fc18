package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction = "production"

	minSessionSecretLength = 32
)

type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string
	AppURL      string

	DatabaseURL string
	RedisURL    string

	SessionSecret string
	SessionTTL    time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	LicensePriceCents   int64
	LicenseCurrency     string

	LoginRateLimit  int
	LoginRateWindow time.Duration

	CORSAllowedOrigins []string
	// TrustedProxy enables X-Forwarded-For / X-Real-IP for client addresses.
	TrustedProxy bool
}

// IsProduction reports whether cookies must carry the Secure flag.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func LoadConfig() (*Config, error) {
	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "24h"))
	if err != nil {
		return nil, errors.New("invalid SESSION_TTL format")
	}

	rateWindow, err := time.ParseDuration(getEnv("LOGIN_RATE_WINDOW", "5m"))
	if err != nil {
		return nil, errors.New("invalid LOGIN_RATE_WINDOW format")
	}

	rateLimit, err := strconv.Atoi(getEnv("LOGIN_RATE_LIMIT", "20"))
	if err != nil {
		return nil, errors.New("invalid LOGIN_RATE_LIMIT format")
	}

	price, err := strconv.ParseInt(getEnv("LICENSE_PRICE_CENTS", "1000"), 10, 64)
	if err != nil || price <= 0 {
		return nil, errors.New("invalid LICENSE_PRICE_CENTS")
	}

	trustedProxy, err := strconv.ParseBool(getEnv("TRUSTED_PROXY", "false"))
	if err != nil {
		return nil, errors.New("invalid TRUSTED_PROXY format")
	}

	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		Environment:         getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AppURL:              strings.TrimRight(os.Getenv("APP_URL"), "/"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		SessionSecret:       os.Getenv("SESSION_SECRET"),
		SessionTTL:          sessionTTL,
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		LicensePriceCents:   price,
		LicenseCurrency:     strings.ToLower(getEnv("LICENSE_CURRENCY", "usd")),
		LoginRateLimit:      rateLimit,
		LoginRateWindow:     rateWindow,
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		TrustedProxy:        trustedProxy,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d characters long", minSessionSecretLength)
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.AppURL == "" {
		return nil, errors.New("APP_URL is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
