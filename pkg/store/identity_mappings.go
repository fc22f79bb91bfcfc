package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// IdentityMapping links an external OIDC userid to a local account ID.
// This is the legacy resolution path kept for installations migrated
// from earlier deployments where usernames did not line up.
type IdentityMapping struct {
	ExternalID     string    `json:"external_id"`
	LocalAccountID string    `json:"local_account_id"`
	Nickname       string    `json:"nickname,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// IdentityMappings manages the legacy identity mapping table.
type IdentityMappings struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewIdentityMappings creates an identity mapping store.
func NewIdentityMappings(db *sql.DB, log *logrus.Logger) *IdentityMappings {
	if log == nil {
		log = logrus.New()
	}
	return &IdentityMappings{db: db, log: log}
}

// Add records a new identity mapping. An empty external ID or a
// duplicate is logged and skipped.
func (s *IdentityMappings) Add(ctx context.Context, externalID, localAccountID, nickname string, lastSeen time.Time) error {
	if externalID == "" {
		s.log.Error("cannot add identity mapping with empty external userid")
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"external_id":   externalID,
		"local_account": localAccountID,
	}).Info("creating identity mapping")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oidc_identity_mappings (external_id, local_account_id, nickname, last_seen)
		VALUES ($1, $2, $3, $4)
	`, externalID, localAccountID, nickname, lastSeen)
	if isUniqueViolation(err) {
		s.log.WithFields(logrus.Fields{
			"external_id":   externalID,
			"local_account": localAccountID,
		}).Error("mapping for this external identity already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add identity mapping %s -> %s: %w", externalID, localAccountID, err)
	}
	return nil
}

// LocalAccountID resolves an external userid to a local account ID.
func (s *IdentityMappings) LocalAccountID(ctx context.Context, externalID string) (string, bool) {
	if externalID == "" {
		return "", false
	}
	var localAccountID string
	err := s.db.QueryRowContext(ctx, `
		SELECT local_account_id FROM oidc_identity_mappings WHERE external_id = $1
	`, externalID).Scan(&localAccountID)
	if err == sql.ErrNoRows {
		s.log.WithField("external_id", externalID).Warn("identity mapping not found")
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithField("external_id", externalID).Error("failed to look up identity mapping")
		return "", false
	}
	return localAccountID, true
}

// FindByNickname returns identity mappings whose nickname matches,
// case-insensitively.
func (s *IdentityMappings) FindByNickname(ctx context.Context, nickname string) ([]IdentityMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, local_account_id, nickname, last_seen
		FROM oidc_identity_mappings
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to find identities by nickname: %w", err)
	}
	defer rows.Close()
	return scanIdentities(rows)
}

// FindExpired returns the distinct local account IDs whose most recent
// login is at or before the threshold.
func (s *IdentityMappings) FindExpired(ctx context.Context, threshold time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_account_id
		FROM oidc_identity_mappings
		GROUP BY local_account_id
		HAVING MAX(last_seen) <= $1
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired identities: %w", err)
	}
	defer rows.Close()

	var accountIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accountIDs = append(accountIDs, id)
	}
	return accountIDs, rows.Err()
}

// Touch updates the last-seen timestamp of an existing mapping.
func (s *IdentityMappings) Touch(ctx context.Context, externalID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE oidc_identity_mappings SET last_seen = $1 WHERE external_id = $2
	`, at, externalID)
	if err != nil {
		return fmt.Errorf("failed to touch identity mapping %s: %w", externalID, err)
	}
	return nil
}

// Remove deletes every mapping pointing at the local account ID and
// reports how many were removed.
func (s *IdentityMappings) Remove(ctx context.Context, localAccountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oidc_identity_mappings WHERE local_account_id = $1
	`, localAccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove identity mappings for %s: %w", localAccountID, err)
	}
	return result.RowsAffected()
}

func scanIdentities(rows *sql.Rows) ([]IdentityMapping, error) {
	var mappings []IdentityMapping
	for rows.Next() {
		var m IdentityMapping
		if err := rows.Scan(&m.ExternalID, &m.LocalAccountID, &m.Nickname, &m.LastSeen); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
