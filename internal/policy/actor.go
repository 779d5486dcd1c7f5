// ABOUTME: ActorContext (per-request view of a user) and effective-role resolution.
// ABOUTME: Aggregate view (no active org) always demotes non-super-admins to viewer.
package policy

import "github.com/google/uuid"

// Membership pairs a user with one organization and the stored role token.
// Role is kept raw so corrupt values are caught by ParseRole at evaluation time.
type Membership struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           string
}

// ActorContext is the read-only, per-request view of the acting user.
// ActiveOrganizationID is nil for the aggregate view; it must never be
// represented by uuid.Nil.
type ActorContext struct {
	UserID               uuid.UUID
	IsSuperAdmin         bool
	ActiveOrganizationID *uuid.UUID
	Memberships          []Membership
}

// Effective is the outcome of resolving an ActorContext.
//
// SuperAdmin is reported separately from Role: some actions are gated on the
// global flag itself (cross-tenant visibility) rather than on role level.
type Effective struct {
	Role       Role
	SuperAdmin bool
	// Aggregate is true when no organization is selected.
	Aggregate bool
}

// MembershipFor returns the actor's membership in orgID, if any.
func (a ActorContext) MembershipFor(orgID uuid.UUID) (Membership, bool) {
	for _, m := range a.Memberships {
		if m.OrganizationID == orgID {
			return m, true
		}
	}
	return Membership{}, false
}

// RoleIn returns the actor's role in orgID regardless of the active selection.
// Super admins get RoleSecretario; non-members get RoleNone.
func (a ActorContext) RoleIn(orgID uuid.UUID) Role {
	if a.IsSuperAdmin {
		return RoleSecretario
	}
	m, ok := a.MembershipFor(orgID)
	if !ok {
		return RoleNone
	}
	return ParseRole(m.Role)
}

// Resolve computes the effective role for the actor's current selection.
//
//   - super admin: secretario with SuperAdmin set
//   - active organization: the membership role there, or RoleNone
//   - no active organization: viewer, whatever the memberships hold
func Resolve(a ActorContext) Effective {
	aggregate := a.ActiveOrganizationID == nil
	if a.IsSuperAdmin {
		return Effective{Role: RoleSecretario, SuperAdmin: true, Aggregate: aggregate}
	}
	if aggregate {
		return Effective{Role: RoleViewer, Aggregate: true}
	}
	m, ok := a.MembershipFor(*a.ActiveOrganizationID)
	if !ok {
		return Effective{Role: RoleNone}
	}
	return Effective{Role: ParseRole(m.Role)}
}

// HasAccess reports whether the effective view grants any access at all.
func (e Effective) HasAccess() bool {
	return e.SuperAdmin || e.Role.Valid()
}

// AtLeast reports whether the effective view meets required.
func (e Effective) AtLeast(required Role) bool {
	return e.SuperAdmin || e.Role.AtLeast(required)
}

// CanAssign reports whether the effective view may assign target.
func (e Effective) CanAssign(target Role) bool {
	return CanAssign(e.Role, target, e.SuperAdmin)
}
