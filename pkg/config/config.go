package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Session configuration
	Session SessionConfig

	// Cleanup configuration
	Cleanup CleanupConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// SecureCookies marks issued cookies Secure. Enable behind TLS.
	SecureCookies bool
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SessionConfig holds bridge session settings
type SessionConfig struct {
	TTL time.Duration
}

// CleanupConfig holds the background retention job settings
type CleanupConfig struct {
	// Schedule is a cron expression, robfig/cron syntax
	Schedule string

	// IdentityRetention is how long an identity mapping may go unseen
	// before its account is reported as expired
	IdentityRetention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Session:       loadSessionConfig(),
		Cleanup:       loadCleanupConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("OIDCBRIDGE_HOST", "0.0.0.0"),
		Port:            getEnv("OIDCBRIDGE_PORT", "8080"),
		BaseURL:         getEnv("OIDCBRIDGE_BASE_URL", "http://localhost:8080"),
		ReadTimeout:     getEnvDuration("OIDCBRIDGE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("OIDCBRIDGE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("OIDCBRIDGE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("OIDCBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		SecureCookies:   getEnvBool("OIDCBRIDGE_SECURE_COOKIES", false),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:     getEnv("OIDCBRIDGE_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("OIDCBRIDGE_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("OIDCBRIDGE_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("OIDCBRIDGE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

// loadSessionConfig loads session configuration from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		TTL: getEnvDuration("OIDCBRIDGE_SESSION_TTL", 8*time.Hour),
	}
}

// loadCleanupConfig loads cleanup configuration from environment
func loadCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Schedule:          getEnv("OIDCBRIDGE_CLEANUP_SCHEDULE", "@hourly"),
		IdentityRetention: getEnvDuration("OIDCBRIDGE_IDENTITY_RETENTION", 365*24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("OIDCBRIDGE_LOG_LEVEL", "info"),
		MetricsEnabled: getEnvBool("OIDCBRIDGE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Cleanup.IdentityRetention <= 0 {
		return fmt.Errorf("identity retention must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
