package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oidcbridge/oidcbridge/pkg/directory"
)

// Groups implements directory.Groups over *sql.DB.
type Groups struct {
	db *sql.DB
}

// NewGroups creates a PostgreSQL-backed group store.
func NewGroups(db *sql.DB) *Groups {
	return &Groups{db: db}
}

// Exists reports whether the group exists.
func (s *Groups) Exists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)
	`, groupID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group %s: %w", groupID, err)
	}
	return exists, nil
}

// Get returns the group, or nil when it does not exist.
func (s *Groups) Get(ctx context.Context, groupID string) (*directory.Group, error) {
	g := &directory.Group{}
	var displayName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name FROM groups WHERE id = $1
	`, groupID).Scan(&g.ID, &displayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group %s: %w", groupID, err)
	}
	g.DisplayName = displayName.String
	return g, nil
}

// Create creates a group with the given ID.
func (s *Groups) Create(ctx context.Context, groupID string) (*directory.Group, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, created_at) VALUES ($1, NOW())
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create group %s: %w", groupID, err)
	}
	return &directory.Group{ID: groupID}, nil
}

// AddMember adds the account to the group. Adding an existing member is
// a no-op.
func (s *Groups) AddMember(ctx context.Context, groupID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, account_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (group_id, account_id) DO NOTHING
	`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to add %s to group %s: %w", accountID, groupID, err)
	}
	return nil
}

// RemoveMember removes the account from the group.
func (s *Groups) RemoveMember(ctx context.Context, groupID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND account_id = $2
	`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to remove %s from group %s: %w", accountID, groupID, err)
	}
	return nil
}

// IsMember reports whether the account is a member of the group.
func (s *Groups) IsMember(ctx context.Context, groupID, accountID string) (bool, error) {
	var isMember bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND account_id = $2)
	`, groupID, accountID).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("failed to check membership of %s in %s: %w", accountID, groupID, err)
	}
	return isMember, nil
}

// MemberGroupIDs returns the IDs of every group the account belongs to.
func (s *Groups) MemberGroupIDs(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_members WHERE account_id = $1 ORDER BY group_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships for %s: %w", accountID, err)
	}
	defer rows.Close()

	var groupIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groupIDs = append(groupIDs, id)
	}
	return groupIDs, rows.Err()
}
