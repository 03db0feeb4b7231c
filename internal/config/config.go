// Package config loads gatherin configuration from defaults, TOML files,
// a .env file and GATHERIN_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for gatherin.
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Database    DatabaseConfig `toml:"database"`
	Redis       RedisConfig    `toml:"redis"`
	Brapi       BrapiConfig    `toml:"brapi"`
	Pricing     PricingConfig  `toml:"pricing"`
	Auth        AuthConfig     `toml:"auth"`
	Health      HealthConfig   `toml:"health"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int      `toml:"port"`
	ReadTimeout  string   `toml:"read_timeout"`
	WriteTimeout string   `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
}

func (c *ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 10*time.Second)
}

func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 10*time.Second)
}

// DatabaseConfig points at PostgreSQL. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig enables the read-through cache tier when URL is set.
type RedisConfig struct {
	URL string `toml:"url"`
	TTL string `toml:"ttl"`
}

func (c *RedisConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 30*time.Second)
}

// BrapiConfig holds the market-quote provider configuration.
type BrapiConfig struct {
	BaseURL   string `toml:"base_url"`
	Token     string `toml:"token"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *BrapiConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// PricingConfig tunes the price resolution path.
type PricingConfig struct {
	StaleAfter           string `toml:"stale_after"`
	RetryBackoff         string `toml:"retry_backoff"`
	FallbackOnCacheError bool   `toml:"fallback_on_cache_error"`
}

func (c *PricingConfig) GetStaleAfter() time.Duration {
	return parseDuration(c.StaleAfter, 24*time.Hour)
}

func (c *PricingConfig) GetRetryBackoff() time.Duration {
	return parseDuration(c.RetryBackoff, 50*time.Millisecond)
}

// AuthConfig holds the shared secret used to verify session tokens.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// HealthConfig schedules the cache-health monitor (robfig/cron syntax).
type HealthConfig struct {
	Schedule string `toml:"schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

// DefaultJWTSecret is only acceptable outside production.
const DefaultJWTSecret = "dev-jwt-secret-change-in-production"

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
			CORSOrigins:  []string{"*"},
		},
		Redis: RedisConfig{
			TTL: "30s",
		},
		Brapi: BrapiConfig{
			BaseURL:   "https://brapi.dev",
			RateLimit: 5,
			Timeout:   "10s",
		},
		Pricing: PricingConfig{
			StaleAfter:   "24h",
			RetryBackoff: "50ms",
		},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
		},
		Health: HealthConfig{
			Schedule: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. Later files override earlier ones; missing
// files are skipped. A .env file in the working directory, if present, is
// loaded before environment overrides are applied.
func Load(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Real environment variables win over .env entries.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATHERIN_ENV"); v != "" {
		cfg.Environment = v
	}

	if v := getEnv("GATHERIN_PORT", "PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GATHERIN_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	if v := getEnv("GATHERIN_DATABASE_URL", "DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := getEnv("GATHERIN_REDIS_URL", "REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GATHERIN_REDIS_TTL"); v != "" {
		cfg.Redis.TTL = v
	}

	if v := os.Getenv("GATHERIN_BRAPI_BASE_URL"); v != "" {
		cfg.Brapi.BaseURL = v
	}
	if v := os.Getenv("GATHERIN_BRAPI_TOKEN"); v != "" {
		cfg.Brapi.Token = v
	}
	if v := os.Getenv("GATHERIN_BRAPI_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Brapi.RateLimit = n
		}
	}
	if v := os.Getenv("GATHERIN_BRAPI_TIMEOUT"); v != "" {
		cfg.Brapi.Timeout = v
	}

	if v := os.Getenv("GATHERIN_PRICING_STALE_AFTER"); v != "" {
		cfg.Pricing.StaleAfter = v
	}
	if v := os.Getenv("GATHERIN_PRICING_RETRY_BACKOFF"); v != "" {
		cfg.Pricing.RetryBackoff = v
	}
	if v := os.Getenv("GATHERIN_PRICING_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pricing.FallbackOnCacheError = b
		}
	}

	if v := os.Getenv("GATHERIN_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GATHERIN_HEALTH_SCHEDULE"); v != "" {
		cfg.Health.Schedule = v
	}

	if v := os.Getenv("GATHERIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATHERIN_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// getEnv returns the first non-empty variable. The unprefixed names are the
// ones most hosting platforms inject.
func getEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// NewLogger builds the slog logger described by the logging section.
func (c *LoggingConfig) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
