package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the directory tables. Statements are idempotent so the
// server can apply them at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		display_name TEXT,
		secret TEXT NOT NULL,
		backend TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts (LOWER(email))`,
	`CREATE TABLE IF NOT EXISTS account_avatars (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		image BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (group_id, account_id)
	)`,
}

// Migrate creates the directory tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply directory schema: %w", err)
		}
	}
	return nil
}
