package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/security"
)

const minSecretLength = 32

// Config is loaded once from the environment at startup. Token TTLs accept
// the compact duration form ("15m", "7d") and fall back to their defaults
// when unparseable.
type Config struct {
	Environment string
	HTTPAddr    string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret        string
	JWTRefreshSecret string
	JWTIssuer        string
	JWTAudience      string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	APIRateLimitRPM    int
	AuthRateLimitRPM   int
	RateLimitFailOpen  bool
	SweepInterval      time.Duration
	ShutdownTimeout    time.Duration
	CookieSecure       bool
	CookieDomain       string
	EnableOTelHTTP     bool
	OTLPEndpoint       string
	TraceSampleRatio   float64
	MetricsEnabled     bool
	TracingEnabled     bool
	OTelLoggingEnabled bool
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Environment: getenv("APP_ENV", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DatabaseDriver: getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		JWTIssuer:        getenv("JWT_ISSUER", "auth-token-service"),
		JWTAudience:      getenv("JWT_AUDIENCE", "kelmah-platform"),

		AccessTokenTTL:  security.ParseExpiry(getenv("JWT_ACCESS_EXPIRY", "15m")),
		RefreshTokenTTL: security.ParseExpiry(getenv("JWT_REFRESH_EXPIRY", "7d")),

		APIRateLimitRPM:    getenvInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:   getenvInt("AUTH_RATE_LIMIT_RPM", 30),
		RateLimitFailOpen:  getenvBool("RATE_LIMIT_FAIL_OPEN", false),
		SweepInterval:      getenvDuration("TOKEN_SWEEP_INTERVAL", time.Hour),
		ShutdownTimeout:    getenvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		CookieSecure:       getenvBool("COOKIE_SECURE", true),
		CookieDomain:       os.Getenv("COOKIE_DOMAIN"),
		EnableOTelHTTP:     getenvBool("OTEL_HTTP_ENABLED", true),
		OTLPEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRatio:   getenvFloat("OTEL_TRACE_SAMPLE_RATIO", 0.1),
		MetricsEnabled:     getenvBool("OTEL_METRICS_ENABLED", false),
		TracingEnabled:     getenvBool("OTEL_TRACING_ENABLED", false),
		OTelLoggingEnabled: getenvBool("OTEL_LOGGING_ENABLED", false),
	}

	err := cfg.validate()
	recordConfigValidationEvent(ctx, cfg.Environment, outcomeOf(err), classifyConfigLoadError(err))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("validate config: JWT_SECRET must be at least %d bytes", minSecretLength)
	}
	if len(c.JWTRefreshSecret) < minSecretLength {
		return fmt.Errorf("validate config: JWT_REFRESH_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.JWTSecret == c.JWTRefreshSecret {
		return fmt.Errorf("validate config: JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.DatabaseDSN == "" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("validate config: DATABASE_DSN is required for driver %q", c.DatabaseDriver)
	}
	if c.APIRateLimitRPM <= 0 || c.AuthRateLimitRPM <= 0 {
		return fmt.Errorf("validate config: rate limits must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
