// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	OIDCBRIDGE_HOST="0.0.0.0"
//	OIDCBRIDGE_PORT="8080"
//	OIDCBRIDGE_BASE_URL="https://bridge.example.org"
//	OIDCBRIDGE_READ_TIMEOUT="15s"
//	OIDCBRIDGE_WRITE_TIMEOUT="15s"
//	OIDCBRIDGE_SECURE_COOKIES="true"
//
// Database settings:
//
//	OIDCBRIDGE_POSTGRES_URL="postgres://localhost/oidcbridge"
//	OIDCBRIDGE_POSTGRES_MAX_CONNS="20"
//	OIDCBRIDGE_POSTGRES_CONN_LIFETIME="30m"
//
// Session and cleanup settings:
//
//	OIDCBRIDGE_SESSION_TTL="8h"
//	OIDCBRIDGE_CLEANUP_SCHEDULE="@hourly"
//	OIDCBRIDGE_IDENTITY_RETENTION="8760h"
//
// Observability settings:
//
//	OIDCBRIDGE_LOG_LEVEL="info"  # debug, info, warn, error
//	OIDCBRIDGE_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/login: Uses session configuration
//   - pkg/observability: Uses observability configuration
package config
