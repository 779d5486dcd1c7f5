// ABOUTME: Pure access-control decisions: minimum-role checks and role-assignment ceilings.
// ABOUTME: String forms accept untrusted tokens and fail closed; typed forms are for internal callers.
package policy

// HasMinRole reports whether actualRole meets or exceeds required.
// actualRole is untrusted; an unrecognized token never satisfies any threshold.
func HasMinRole(actualRole string, required Role) bool {
	return ParseRole(actualRole).AtLeast(required)
}

// CanAssignRole reports whether an actor holding assignerRole may give
// targetRole to another member. Both tokens are untrusted.
func CanAssignRole(assignerRole, targetRole string, assignerIsSuperAdmin bool) bool {
	return CanAssign(ParseRole(assignerRole), ParseRole(targetRole), assignerIsSuperAdmin)
}

// CanAssign is the typed form of CanAssignRole. Super admins may assign any
// role. Everyone else must hold at least gestor and may only assign roles at
// or below their own. An unrecognized target ranks below viewer and passes the
// ceiling; callers that accept role tokens reject those at parse time.
func CanAssign(assigner, target Role, assignerIsSuperAdmin bool) bool {
	if assignerIsSuperAdmin {
		return true
	}
	return target <= assigner && assigner >= RoleGestor
}
