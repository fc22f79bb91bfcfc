// Package directory defines the capability interfaces the identity
// bridge requires from the host account and group stores. The core
// services consume these interfaces; the host supplies the backing
// implementation (see the postgres subpackage for the bundled one).
package directory

import "context"

// Account is a local user account resolved or created by the bridge.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Backend     string `json:"backend"`
	Enabled     bool   `json:"enabled"`
}

// Group is a local group.
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Accounts is the host account store capability.
type Accounts interface {
	// FindByEmail returns every account carrying the email address.
	// Email is not guaranteed unique by the host store.
	FindByEmail(ctx context.Context, email string) ([]Account, error)

	// FindByUsername returns the account with the exact username, or
	// nil when no such account exists.
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// FindByID returns the account with the given ID, or nil.
	FindByID(ctx context.Context, id string) (*Account, error)

	// Create creates a disabled account with the given username and
	// secret. It fails when the username is already taken.
	Create(ctx context.Context, username, secret string) (*Account, error)

	SetEmail(ctx context.Context, id, email string) error
	SetDisplayName(ctx context.Context, id, displayName string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetAvatar(ctx context.Context, id string, image []byte) error
}

// Groups is the host group store capability.
type Groups interface {
	// Exists reports whether the group is known to the host store.
	Exists(ctx context.Context, groupID string) (bool, error)

	// Get returns the group, or nil when it does not exist.
	Get(ctx context.Context, groupID string) (*Group, error)

	// Create creates a group with the given ID.
	Create(ctx context.Context, groupID string) (*Group, error)

	AddMember(ctx context.Context, groupID, accountID string) error
	RemoveMember(ctx context.Context, groupID, accountID string) error
	IsMember(ctx context.Context, groupID, accountID string) (bool, error)

	// MemberGroupIDs returns the IDs of every group the account is a
	// member of.
	MemberGroupIDs(ctx context.Context, accountID string) ([]string, error)
}
