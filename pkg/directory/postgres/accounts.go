// Package postgres implements the directory capability interfaces on
// top of PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/oidcbridge/oidcbridge/pkg/directory"
)

// BackendName is the backend type recorded on accounts created through
// the bridge.
const BackendName = "oidc"

// Accounts implements directory.Accounts over *sql.DB.
type Accounts struct {
	db *sql.DB
}

// NewAccounts creates a PostgreSQL-backed account store.
func NewAccounts(db *sql.DB) *Accounts {
	return &Accounts{db: db}
}

const accountColumns = `id, username, email, display_name, backend, enabled`

func scanAccount(row interface{ Scan(...any) error }) (*directory.Account, error) {
	a := &directory.Account{}
	var email, displayName sql.NullString
	if err := row.Scan(&a.ID, &a.Username, &email, &displayName, &a.Backend, &a.Enabled); err != nil {
		return nil, err
	}
	a.Email = email.String
	a.DisplayName = displayName.String
	return a, nil
}

// FindByEmail returns all accounts with the given email address.
func (s *Accounts) FindByEmail(ctx context.Context, email string) ([]directory.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
		ORDER BY username
	`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts by email: %w", err)
	}
	defer rows.Close()

	var accounts []directory.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// FindByUsername returns the account with the exact username, or nil.
func (s *Accounts) FindByUsername(ctx context.Context, username string) (*directory.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE username = $1
	`, username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account by username: %w", err)
	}
	return a, nil
}

// FindByID returns the account with the given ID, or nil.
func (s *Accounts) FindByID(ctx context.Context, id string) (*directory.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account by id: %w", err)
	}
	return a, nil
}

// Create creates a disabled account. The secret is stored for the host
// authentication stack and never surfaced by the bridge.
func (s *Accounts) Create(ctx context.Context, username, secret string) (*directory.Account, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, secret, backend, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, NOW(), NOW())
	`, id, username, secret, BackendName)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", username, err)
	}
	return &directory.Account{
		ID:       id,
		Username: username,
		Backend:  BackendName,
	}, nil
}

// SetEmail updates the account's email address.
func (s *Accounts) SetEmail(ctx context.Context, id, email string) error {
	return s.update(ctx, id, `UPDATE accounts SET email = $1, updated_at = NOW() WHERE id = $2`, email)
}

// SetDisplayName updates the account's display name.
func (s *Accounts) SetDisplayName(ctx context.Context, id, displayName string) error {
	return s.update(ctx, id, `UPDATE accounts SET display_name = $1, updated_at = NOW() WHERE id = $2`, displayName)
}

// SetEnabled enables or disables the account.
func (s *Accounts) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.update(ctx, id, `UPDATE accounts SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled)
}

// SetAvatar stores the account's avatar image.
func (s *Accounts) SetAvatar(ctx context.Context, id string, image []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_avatars (account_id, image, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE SET image = $2, updated_at = NOW()
	`, id, image)
	if err != nil {
		return fmt.Errorf("failed to set avatar for account %s: %w", id, err)
	}
	return nil
}

func (s *Accounts) update(ctx context.Context, id, query string, value any) error {
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("account %s does not exist", id)
	}
	return nil
}
