// Package config provides configuration management for the resource-lock service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

const (
	// DefaultGRPCMaxMessageSize is the default max message size for gRPC (4MB).
	DefaultGRPCMaxMessageSize int = 4 << 20 // 4194304 bytes

	// DefaultLockPollInterval is the pause between attempts of a blocking acquisition.
	DefaultLockPollInterval = 100 * time.Millisecond

	// DefaultCleanupInterval is how often expired SQL lock rows are purged.
	DefaultCleanupInterval = time.Minute

	// DefaultReleaseTimeout bounds the release made after guarded work ends.
	DefaultReleaseTimeout = 5 * time.Second

	// DefaultInvoiceWorkDuration is the simulated invoice rendering time.
	DefaultInvoiceWorkDuration = 10 * time.Second
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// GRPCPort is the gRPC server port.
	GRPCPort string

	// GRPCMaxMessageSize is the maximum message size for gRPC in bytes.
	GRPCMaxMessageSize int

	LogLevel  string
	LogPretty bool

	// TraceExporter selects the OpenTelemetry exporter: none or stdout.
	TraceExporter string

	// LockStore selects the lock backend: memory, redis, postgres or mysql.
	LockStore string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresURL string
	MySQLDSN    string

	// LockKeyPrefix namespaces Redis lock keys.
	LockKeyPrefix string

	LockPollInterval time.Duration
	CleanupInterval  time.Duration
	ReleaseTimeout   time.Duration

	InvoiceWorkDuration time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:                getEnvOrDefault("PORT", "8080"),
		GRPCPort:            getEnvOrDefault("GRPC_PORT", "9090"),
		GRPCMaxMessageSize:  getEnvIntOrDefault("GRPC_MAX_MESSAGE_SIZE", DefaultGRPCMaxMessageSize),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogPretty:           getEnvBoolOrDefault("LOG_PRETTY", false),
		TraceExporter:       getEnvOrDefault("TRACE_EXPORTER", "none"),
		LockStore:           strings.ToLower(getEnvOrDefault("LOCK_STORE", StoreMemory)),
		RedisAddr:           getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvIntOrDefault("REDIS_DB", 0),
		PostgresURL:         os.Getenv("POSTGRES_URL"),
		MySQLDSN:            os.Getenv("MYSQL_DSN"),
		LockKeyPrefix:       getEnvOrDefault("LOCK_KEY_PREFIX", "lock:"),
		LockPollInterval:    getEnvDurationOrDefault("LOCK_POLL_INTERVAL", DefaultLockPollInterval),
		CleanupInterval:     getEnvDurationOrDefault("CLEANUP_INTERVAL", DefaultCleanupInterval),
		ReleaseTimeout:      getEnvDurationOrDefault("LOCK_RELEASE_TIMEOUT", DefaultReleaseTimeout),
		InvoiceWorkDuration: getEnvDurationOrDefault("INVOICE_WORK_DURATION", DefaultInvoiceWorkDuration),
	}

	return cfg
}

// Validate checks that the selected lock store has what it needs.
func (c *Config) Validate() error {
	switch c.LockStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for the redis lock store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: POSTGRES_URL is required for the postgres lock store", ErrInvalidConfig)
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("%w: MYSQL_DSN is required for the mysql lock store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown LOCK_STORE %q", ErrInvalidConfig, c.LockStore)
	}
	if c.LockPollInterval <= 0 {
		return fmt.Errorf("%w: LOCK_POLL_INTERVAL must be positive", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as int or the default if not set or invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as bool or the default if not set or invalid.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault parses values such as "250ms" or "1m"; a bare
// integer is taken as seconds.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
