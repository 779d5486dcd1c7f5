// ABOUTME: Organization Role type ordered by privilege: viewer < gestor < secretario.
// ABOUTME: ParseRole is the trust-boundary conversion; unknown tokens become RoleNone.
package policy

import (
	"errors"
	"fmt"
)

// Role is an organization-scoped permission level. The integer value is the
// role's ordinal in the privilege ordering; all "at least" checks compare it.
type Role int

// Role ordinals, least to most privileged. RoleNone sits strictly below every
// defined role and is what unrecognized tokens parse to.
const (
	RoleNone       Role = -1
	RoleViewer     Role = 0 // read-only
	RoleGestor     Role = 1 // manages projects and members up to gestor
	RoleSecretario Role = 2 // full control of the organization
)

// ErrUnknownRole is returned by UnmarshalText for tokens outside the ordering.
var ErrUnknownRole = errors.New("unknown role")

// roleTokens is the defining sequence. Index equals ordinal.
var roleTokens = [...]string{"viewer", "gestor", "secretario"}

// Roles returns the defined roles in ascending privilege order.
func Roles() []Role {
	return []Role{RoleViewer, RoleGestor, RoleSecretario}
}

// ParseRole converts a stored or external role token to a Role.
// Unknown or empty values map to RoleNone (below every threshold).
func ParseRole(s string) Role {
	for i, tok := range roleTokens {
		if s == tok {
			return Role(i)
		}
	}
	return RoleNone
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleSecretario
}

// String returns the role token, or "none" for RoleNone and out-of-range values.
func (r Role) String() string {
	if !r.Valid() {
		return "none"
	}
	return roleTokens[r]
}

// MarshalText implements encoding.TextMarshaler. RoleNone cannot be marshaled.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("marshal role %d: %w", int(r), ErrUnknownRole)
	}
	return []byte(roleTokens[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unlike ParseRole it
// rejects unknown tokens so malformed request bodies fail validation.
func (r *Role) UnmarshalText(b []byte) error {
	parsed := ParseRole(string(b))
	if parsed == RoleNone {
		return fmt.Errorf("%w: %q", ErrUnknownRole, string(b))
	}
	*r = parsed
	return nil
}

// AtLeast reports whether r meets or exceeds required.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

// CanAssign reports whether a non-super-admin holding r may give target to
// another member.
func (r Role) CanAssign(target Role) bool {
	return CanAssign(r, target, false)
}
