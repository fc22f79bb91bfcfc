package config

import (
	"os"
	"testing"
	"time"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "true string", key: "TEST_BOOL", defaultValue: false, envValue: "true", want: true},
		{name: "one string", key: "TEST_BOOL", defaultValue: false, envValue: "1", want: true},
		{name: "false string", key: "TEST_BOOL", defaultValue: true, envValue: "false", want: false},
		{name: "unset returns default", key: "TEST_BOOL_NOT_SET", defaultValue: true, envValue: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_DURATION_NOT_SET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}

	os.Setenv("TEST_DURATION_BAD", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION_BAD")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() with invalid value = %v, want 1m", got)
	}
}

// TestLoadConfigDefaults verifies defaults applied to an otherwise
// empty environment
func TestLoadConfigDefaults(t *testing.T) {
	os.Setenv("OIDCBRIDGE_POSTGRES_URL", "postgres://localhost/bridge")
	defer os.Unsetenv("OIDCBRIDGE_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Session.TTL != 8*time.Hour {
		t.Errorf("Session.TTL = %v, want 8h", cfg.Session.TTL)
	}
	if cfg.Cleanup.Schedule != "@hourly" {
		t.Errorf("Cleanup.Schedule = %v, want @hourly", cfg.Cleanup.Schedule)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("Observability.LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
}

// TestLoadConfigMissingDatabase verifies validation of the database URL
func TestLoadConfigMissingDatabase(t *testing.T) {
	os.Unsetenv("OIDCBRIDGE_POSTGRES_URL")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for missing postgres URL")
	}
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:        ServerConfig{Port: "8080"},
			Database:      DatabaseConfig{PostgresURL: "postgres://localhost/bridge"},
			Session:       SessionConfig{TTL: time.Hour},
			Cleanup:       CleanupConfig{Schedule: "@hourly", IdentityRetention: time.Hour},
			Observability: ObservabilityConfig{LogLevel: "info"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("Validate() on valid config = %v", err)
	}

	cfg := base()
	cfg.Server.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for empty port")
	}

	cfg = base()
	cfg.Session.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for zero session TTL")
	}

	cfg = base()
	cfg.Cleanup.IdentityRetention = -time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for negative retention")
	}
}
