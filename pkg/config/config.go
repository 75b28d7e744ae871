package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig
	Throttle      ThrottleConfig
	Credentials   CredentialsConfig
	Observability ObservabilityConfig
}

// DatabaseConfig holds the postgres connection settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// ThrottleConfig holds the login throttling settings. With an empty
// RedisURL the attempt store is process-local.
type ThrottleConfig struct {
	Enabled         bool
	MaxTrials       int
	Window          time.Duration
	IncludeAddr     bool
	IncludeResource bool
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	MemoryStoreSize int
}

// CredentialsConfig holds the credential hashing settings.
type CredentialsConfig struct {
	BcryptCost int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       logrus.Level
	LogJSON        bool
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:          getEnv("AUTHGRAPH_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("AUTHGRAPH_POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("AUTHGRAPH_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("AUTHGRAPH_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Throttle: ThrottleConfig{
			Enabled:         getEnvBool("AUTHGRAPH_THROTTLE_ENABLED", true),
			MaxTrials:       getEnvInt("AUTHGRAPH_THROTTLE_MAX_TRIALS", 5),
			Window:          getEnvDuration("AUTHGRAPH_THROTTLE_WINDOW", 15*time.Minute),
			IncludeAddr:     getEnvBool("AUTHGRAPH_THROTTLE_INCLUDE_ADDR", true),
			IncludeResource: getEnvBool("AUTHGRAPH_THROTTLE_INCLUDE_RESOURCE", false),
			RedisURL:        getEnv("AUTHGRAPH_REDIS_URL", ""),
			RedisPassword:   getEnv("AUTHGRAPH_REDIS_PASSWORD", ""),
			RedisDB:         getEnvInt("AUTHGRAPH_REDIS_DB", 0),
			MemoryStoreSize: getEnvInt("AUTHGRAPH_THROTTLE_MEMORY_SIZE", 4096),
		},
		Credentials: CredentialsConfig{
			BcryptCost: getEnvInt("AUTHGRAPH_BCRYPT_COST", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("AUTHGRAPH_LOG_LEVEL", "info")),
			LogJSON:        getEnvBool("AUTHGRAPH_LOG_JSON", false),
			MetricsEnabled: getEnvBool("AUTHGRAPH_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Throttle.Enabled {
		if c.Throttle.MaxTrials <= 0 {
			return fmt.Errorf("throttle max trials must be positive")
		}
		if c.Throttle.Window <= 0 {
			return fmt.Errorf("throttle window must be positive")
		}
		if !c.Throttle.IncludeAddr && !c.Throttle.IncludeResource {
			return fmt.Errorf("throttle key must include the address, the resource, or both")
		}
	}
	return nil
}

// NewLogger builds a logrus logger from the observability settings.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.Observability.LogLevel)
	if c.Observability.LogJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
