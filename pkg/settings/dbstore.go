package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Configuration slot scopes.
const (
	ScopeApp    = "app"
	ScopeSystem = "system"
)

// DBStore is a ConfigStore backed by the bridge database. Values are
// read on every call so configuration changes apply without a restart.
type DBStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewDBStore creates a database-backed configuration store.
func NewDBStore(db *sql.DB, log *logrus.Logger) *DBStore {
	if log == nil {
		log = logrus.New()
	}
	return &DBStore{db: db, log: log}
}

// Migrate creates the configuration table if it does not exist.
func (s *DBStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS oidc_config (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (scope, key)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to apply configuration schema: %w", err)
	}
	return nil
}

// GetAppValue returns the deployment-specific configuration value.
func (s *DBStore) GetAppValue(key string) (string, bool) {
	return s.get(ScopeApp, key)
}

// GetSystemValue returns the installation-wide configuration value.
func (s *DBStore) GetSystemValue(key string) (string, bool) {
	return s.get(ScopeSystem, key)
}

// Set writes a configuration value into the given scope.
func (s *DBStore) Set(ctx context.Context, scope, key, value string) error {
	if scope != ScopeApp && scope != ScopeSystem {
		return fmt.Errorf("unknown configuration scope: %s", scope)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oidc_config (scope, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value
	`, scope, key, value)
	if err != nil {
		return fmt.Errorf("failed to set configuration %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *DBStore) get(scope, key string) (string, bool) {
	var value string
	err := s.db.QueryRow(`
		SELECT value FROM oidc_config WHERE scope = $1 AND key = $2
	`, scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"scope": scope,
			"key":   key,
		}).Error("failed to read configuration value")
		return "", false
	}
	return value, true
}
