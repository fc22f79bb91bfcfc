package identity

import "errors"

// Identity resolution failures. All of them abort the login flow; the
// HTTP layer maps them to a user-facing denial.
var (
	// ErrNoConfiguration means the bridge has no OpenID configuration
	// in either configuration slot.
	ErrNoConfiguration = errors.New("openid-connect configuration is missing")

	// ErrUserNotFound means no local account matched the identity claim
	// and auto-provisioning was disabled.
	ErrUserNotFound = errors.New("user is not known")

	// ErrAmbiguousUser means more than one local account carries the
	// email the identity claim resolved to.
	ErrAmbiguousUser = errors.New("identity claim does not resolve to a unique user")

	// ErrForbiddenBackend means the resolved account belongs to a
	// backend outside the allowed-user-backends list.
	ErrForbiddenBackend = errors.New("user is from a forbidden backend")
)
