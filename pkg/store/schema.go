package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS oidc_group_mappings (
		external_uuid TEXT NOT NULL UNIQUE,
		local_group_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oidc_identity_mappings (
		external_id TEXT NOT NULL UNIQUE,
		local_account_id TEXT NOT NULL,
		nickname TEXT,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_identity_mappings_account ON oidc_identity_mappings (local_account_id)`,
}

// Migrate creates the mapping tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply mapping schema: %w", err)
		}
	}
	return nil
}
