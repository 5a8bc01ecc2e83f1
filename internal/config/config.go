// Package config provides configuration management for the cache coordinator service.
// It handles loading configuration from environment variables with sensible defaults
// and validates the configuration to ensure the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Admin API port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve the admin API over TLS when both are set
//
// Cache Configuration:
//   - CACHE_NAMESPACE: Key namespace shared by every process of the service (default: cache)
//   - CACHE_LOCAL_SIZE: Maximum entries in the Local level (default: 1000)
//   - CACHE_LOCAL_MAX_AGE: Upper bound on any Local entry's age (default: 10m)
//   - CACHE_SECONDARY_SIZE: Maximum entries in the Secondary level (default: 10000)
//   - CACHE_SECONDARY_CLEANUP_INTERVAL: minimum gap between sweeps of expired Secondary entries (default: 1m)
//   - CACHE_SHARED_ENABLED: Use Redis as the Shared level (default: true)
//   - CACHE_SHARED_TIMEOUT: Per-call timeout for the Shared level (default: 500ms)
//   - CACHE_SHARED_TTL_JITTER: Spread of Shared TTLs (default: 0, disabled)
//   - CACHE_SHARED_BREAKER_FAILURES: Consecutive failures that open the breaker, 0 disables it (default: 10)
//   - CACHE_SHARED_BREAKER_TIMEOUT: Time the breaker stays open (default: 60s)
//   - CACHE_CLEAR_SCAN_COUNT: SCAN page size when clearing the Shared level (default: 500)
//   - CACHE_CLEAR_RATE: SCAN pages per second when clearing, 0 is unlimited (default: 0)
//   - CACHE_SINGLE_FLIGHT: Collapse concurrent loads of one key (default: false)
//   - CACHE_WARMUP_CONCURRENCY: Parallel warm-up tasks (default: 8)
//   - CACHE_WARMUP_SCHEDULE: Cron schedule for warm-up, empty disables it
//   - CACHE_WARMUP_LIMIT: Rows preloaded per warm-up run (default: 500)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Data Source Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./cache_source.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_SSL_MODE: PostgreSQL connection settings
//   - SOURCE_TABLE: Table holding the cached records (default: cache_source)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	coord, err := cache.New(cfg.CacheConfig())
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/circuitbreaker"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/validation"
	"cache-coordinator/internal/redis"
)

// Config holds all configuration values for the service. Every field maps to the
// environment variable named in its env tag.
type Config struct {
	// Application settings
	Port        int    `env:"PORT" validate:"min=1,max=65535"`
	LogLevel    string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	TLSCertFile string `env:"TLS_CERT_FILE" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `env:"TLS_KEY_FILE" validate:"required_with=TLSCertFile"`

	// Cache levels
	Namespace                string        `env:"CACHE_NAMESPACE" validate:"required"`
	LocalSize                int           `env:"CACHE_LOCAL_SIZE" validate:"min=1"`
	LocalMaxAge              time.Duration `env:"CACHE_LOCAL_MAX_AGE" validate:"min=0"`
	SecondarySize            int           `env:"CACHE_SECONDARY_SIZE" validate:"min=1"`
	SecondaryCleanupInterval time.Duration `env:"CACHE_SECONDARY_CLEANUP_INTERVAL" validate:"min=0"`

	// Shared level
	SharedEnabled         bool          `env:"CACHE_SHARED_ENABLED"`
	SharedTimeout         time.Duration `env:"CACHE_SHARED_TIMEOUT" validate:"gt=0"`
	SharedTTLJitter       time.Duration `env:"CACHE_SHARED_TTL_JITTER" validate:"min=0"`
	SharedBreakerFailures int           `env:"CACHE_SHARED_BREAKER_FAILURES" validate:"min=0"`
	SharedBreakerTimeout  time.Duration `env:"CACHE_SHARED_BREAKER_TIMEOUT" validate:"gt=0"`
	ClearScanCount        int64         `env:"CACHE_CLEAR_SCAN_COUNT" validate:"min=1"`
	ClearRate             float64       `env:"CACHE_CLEAR_RATE" validate:"min=0"`

	// Loading
	SingleFlight      bool   `env:"CACHE_SINGLE_FLIGHT"`
	WarmUpConcurrency int    `env:"CACHE_WARMUP_CONCURRENCY" validate:"min=1,max=256"`
	WarmUpSchedule    string `env:"CACHE_WARMUP_SCHEDULE" validate:"cron_schedule"`
	WarmUpLimit       int    `env:"CACHE_WARMUP_LIMIT" validate:"min=0"`

	// Redis configuration for the Shared level
	RedisAddress  string `env:"REDIS_ADDRESS" validate:"required_if=SharedEnabled true"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"min=0,max=15"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" validate:"min=1"`

	// Data source
	DatabaseType     string `env:"DATABASE_TYPE" validate:"oneof=sqlite postgres postgresql"`
	DatabasePath     string `env:"DATABASE_PATH"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     int    `env:"POSTGRES_PORT" validate:"min=1,max=65535"`
	PostgresDB       string `env:"POSTGRES_DB"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresSSLMode  string `env:"POSTGRES_SSL_MODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	SourceTable      string `env:"SOURCE_TABLE" validate:"sql_identifier"`

	parseErrors []string
}

// Load creates a Config from environment variables, falling back to defaults for
// unset variables, and validates it. Values that fail to parse are reported by the
// returned error rather than silently replaced.
func Load() (*Config, error) {
	c := &Config{}

	c.Port = c.getInt("PORT", 8080)
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.TLSCertFile = getEnv("TLS_CERT_FILE", "")
	c.TLSKeyFile = getEnv("TLS_KEY_FILE", "")

	c.Namespace = getEnv("CACHE_NAMESPACE", cache.DefaultNamespace)
	c.LocalSize = c.getInt("CACHE_LOCAL_SIZE", cache.DefaultLocalSize)
	c.LocalMaxAge = c.getDuration("CACHE_LOCAL_MAX_AGE", cache.DefaultLocalMaxAge)
	c.SecondarySize = c.getInt("CACHE_SECONDARY_SIZE", cache.DefaultSecondarySize)
	c.SecondaryCleanupInterval = c.getDuration("CACHE_SECONDARY_CLEANUP_INTERVAL", cache.DefaultSecondaryCleanupInterval)

	breaker := circuitbreaker.DefaultConfig()
	c.SharedEnabled = c.getBool("CACHE_SHARED_ENABLED", true)
	c.SharedTimeout = c.getDuration("CACHE_SHARED_TIMEOUT", cache.DefaultSharedTimeout)
	c.SharedTTLJitter = c.getDuration("CACHE_SHARED_TTL_JITTER", 0)
	c.SharedBreakerFailures = c.getInt("CACHE_SHARED_BREAKER_FAILURES", breaker.MaxFailures)
	c.SharedBreakerTimeout = c.getDuration("CACHE_SHARED_BREAKER_TIMEOUT", breaker.Timeout)
	c.ClearScanCount = int64(c.getInt("CACHE_CLEAR_SCAN_COUNT", cache.DefaultClearScanCount))
	c.ClearRate = c.getFloat("CACHE_CLEAR_RATE", 0)

	c.SingleFlight = c.getBool("CACHE_SINGLE_FLIGHT", false)
	c.WarmUpConcurrency = c.getInt("CACHE_WARMUP_CONCURRENCY", cache.DefaultWarmUpConcurrency)
	c.WarmUpSchedule = getEnv("CACHE_WARMUP_SCHEDULE", "")
	c.WarmUpLimit = c.getInt("CACHE_WARMUP_LIMIT", 500)

	c.RedisAddress = getEnv("REDIS_ADDRESS", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getInt("REDIS_DB", 0)
	c.RedisPoolSize = c.getInt("REDIS_POOL_SIZE", 10)

	c.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	c.DatabasePath = getEnv("DATABASE_PATH", "./cache_source.db")
	c.PostgresHost = getEnv("POSTGRES_HOST", "localhost")
	c.PostgresPort = c.getInt("POSTGRES_PORT", 5432)
	c.PostgresDB = getEnv("POSTGRES_DB", "cache_source")
	c.PostgresUser = getEnv("POSTGRES_USER", "postgres")
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", "")
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", "disable")
	c.SourceTable = getEnv("SOURCE_TABLE", "cache_source")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate performs validation on the configuration: parse failures first, then
// the struct tag rules, then cross-field requirements.
func (c *Config) Validate() error {
	if len(c.parseErrors) > 0 {
		return errors.ConfigError(fmt.Sprintf("invalid environment: %v", c.parseErrors))
	}

	if err := validation.Default().ValidateStruct(c); err != nil {
		return errors.ConfigError(err.Error())
	}

	if c.IsPostgres() {
		if c.PostgresHost == "" {
			return errors.ConfigError("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return errors.ConfigError("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return errors.ConfigError("POSTGRES_USER is required when using PostgreSQL")
		}
	} else if c.DatabasePath == "" {
		return errors.ConfigError("DATABASE_PATH is required when using SQLite")
	}

	return c.CacheConfig().Validate()
}

// IsPostgres reports whether the data source is PostgreSQL.
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// CacheConfig returns the coordinator settings.
func (c *Config) CacheConfig() cache.Config {
	breaker := circuitbreaker.DefaultConfig()
	breaker.MaxFailures = c.SharedBreakerFailures
	breaker.Timeout = c.SharedBreakerTimeout

	return cache.Config{
		Namespace:                c.Namespace,
		LocalSize:                c.LocalSize,
		LocalMaxAge:              c.LocalMaxAge,
		SecondarySize:            c.SecondarySize,
		SecondaryCleanupInterval: c.SecondaryCleanupInterval,
		SharedTimeout:            c.SharedTimeout,
		SharedTTLJitter:          c.SharedTTLJitter,
		SharedBreaker:            breaker,
		ClearScanCount:           c.ClearScanCount,
		ClearRate:                c.ClearRate,
		SingleFlight:             c.SingleFlight,
		WarmUpConcurrency:        c.WarmUpConcurrency,
	}
}

// RedisConfig returns the Shared level's Redis settings.
func (c *Config) RedisConfig() *redis.Config {
	return &redis.Config{
		Address:      c.RedisAddress,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		PoolSize:     c.RedisPoolSize,
		ReadTimeout:  c.SharedTimeout,
		WriteTimeout: c.SharedTimeout,
	}
}

// DatabaseDSN returns the driver name and data source name for the data source.
func (c *Config) DatabaseDSN() (driver, dsn string) {
	if c.IsPostgres() {
		return "pgx", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
	}
	return "sqlite3", c.DatabasePath
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s=%q is not an integer", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s=%q is not a number", key, value))
		return defaultValue
	}
	return parsed
}

// getBool accepts the forms strconv.ParseBool accepts: 1, t, true, 0, f, false.
func (c *Config) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s=%q is not a boolean", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Sprintf("%s=%q is not a duration", key, value))
		return defaultValue
	}
	return parsed
}
