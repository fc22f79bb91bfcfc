// Package store persists the external-to-local mapping tables: group
// mappings (external group UUID to local group ID) and the legacy
// identity mappings (external userid to local account ID).
//
// Uniqueness of the external key is enforced by the database; a
// violated constraint is logged and swallowed rather than surfaced,
// matching the login flow's requirement that a duplicate mapping never
// aborts an otherwise successful authentication.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// uniqueViolation is the PostgreSQL error code for a violated unique
// constraint.
const uniqueViolation = "23505"

// GroupMapping links an external group UUID from the entitlement claim
// to a local group ID.
type GroupMapping struct {
	ExternalUUID string `json:"external_uuid"`
	LocalGroupID string `json:"local_group_id"`
}

// GroupMappings manages the external group mapping table.
type GroupMappings struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewGroupMappings creates a group mapping store.
func NewGroupMappings(db *sql.DB, log *logrus.Logger) *GroupMappings {
	if log == nil {
		log = logrus.New()
	}
	return &GroupMappings{db: db, log: log}
}

// Add records a new mapping. Empty arguments and duplicate external
// UUIDs are logged and skipped; neither is an error for the caller.
func (s *GroupMappings) Add(ctx context.Context, externalUUID, localGroupID string) error {
	if externalUUID == "" || localGroupID == "" {
		s.log.Error("cannot add group mapping without external UUID or local group ID")
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"external_uuid": externalUUID,
		"local_group":   localGroupID,
	}).Info("adding group mapping")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oidc_group_mappings (external_uuid, local_group_id, created_at)
		VALUES ($1, $2, NOW())
	`, externalUUID, localGroupID)
	if isUniqueViolation(err) {
		s.log.WithFields(logrus.Fields{
			"external_uuid": externalUUID,
			"local_group":   localGroupID,
		}).Error("mapping for this external group already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add group mapping %s -> %s: %w", externalUUID, localGroupID, err)
	}
	return nil
}

// LocalGroupID resolves an external group UUID to a local group ID.
// The second return is false when no mapping exists.
func (s *GroupMappings) LocalGroupID(ctx context.Context, externalUUID string) (string, bool) {
	var localGroupID string
	err := s.db.QueryRowContext(ctx, `
		SELECT local_group_id FROM oidc_group_mappings WHERE external_uuid = $1
	`, externalUUID).Scan(&localGroupID)
	if err == sql.ErrNoRows {
		s.log.WithField("external_uuid", externalUUID).Warn("group mapping not found")
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithField("external_uuid", externalUUID).Error("failed to look up group mapping")
		return "", false
	}
	return localGroupID, true
}

// Remove deletes the mapping for an external group UUID. It reports
// whether a mapping was actually removed.
func (s *GroupMappings) Remove(ctx context.Context, externalUUID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oidc_group_mappings WHERE external_uuid = $1
	`, externalUUID)
	if err != nil {
		return false, fmt.Errorf("failed to remove group mapping %s: %w", externalUUID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List returns every group mapping ordered by external UUID.
func (s *GroupMappings) List(ctx context.Context) ([]GroupMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_uuid, local_group_id FROM oidc_group_mappings ORDER BY external_uuid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list group mappings: %w", err)
	}
	defer rows.Close()

	var mappings []GroupMapping
	for rows.Next() {
		var m GroupMapping
		if err := rows.Scan(&m.ExternalUUID, &m.LocalGroupID); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
