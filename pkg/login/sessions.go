package login

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated bridge session.
type Session struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionManager manages bridge sessions in the database.
type SessionManager struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSessionManager creates a session manager with the given session
// lifetime.
func NewSessionManager(db *sql.DB, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &SessionManager{db: db, ttl: ttl}
}

// Migrate creates the session table if it does not exist.
func (sm *SessionManager) Migrate(ctx context.Context) error {
	_, err := sm.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS oidc_sessions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to apply session schema: %w", err)
	}
	return nil
}

// Create creates a new session for the account.
func (sm *SessionManager) Create(ctx context.Context, accountID, externalID string) (*Session, error) {
	now := time.Now()
	session := &Session{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		ExternalID: externalID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sm.ttl),
	}

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO oidc_sessions (id, account_id, external_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.AccountID, session.ExternalID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Get retrieves a live session, or nil when unknown or expired.
func (sm *SessionManager) Get(ctx context.Context, sessionID string) (*Session, error) {
	session := &Session{}
	err := sm.db.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, created_at, expires_at
		FROM oidc_sessions
		WHERE id = $1 AND expires_at > NOW()
	`, sessionID).Scan(&session.ID, &session.AccountID, &session.ExternalID,
		&session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// Delete removes a session.
func (sm *SessionManager) Delete(ctx context.Context, sessionID string) error {
	_, err := sm.db.ExecContext(ctx, `DELETE FROM oidc_sessions WHERE id = $1`, sessionID)
	return err
}

// CleanupExpired removes expired sessions and reports how many were
// deleted.
func (sm *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := sm.db.ExecContext(ctx, `DELETE FROM oidc_sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
