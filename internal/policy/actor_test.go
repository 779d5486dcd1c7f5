// ABOUTME: Tests for effective-role resolution over ActorContext.
// ABOUTME: Covers super-admin override, active-org lookup and aggregate-view demotion.
package policy_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/policy"
)

var (
	orgA = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	orgB = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	orgC = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	user = uuid.MustParse("11111111-1111-1111-1111-111111111111")
)

func actor(active *uuid.UUID, super bool) policy.ActorContext {
	return policy.ActorContext{
		UserID:               user,
		IsSuperAdmin:         super,
		ActiveOrganizationID: active,
		Memberships: []policy.Membership{
			{UserID: user, OrganizationID: orgA, Role: "secretario"},
			{UserID: user, OrganizationID: orgB, Role: "viewer"},
		},
	}
}

func TestResolve_AggregateViewDemotesToViewer(t *testing.T) {
	t.Parallel()
	got := policy.Resolve(actor(nil, false))
	if got.Role != policy.RoleViewer {
		t.Errorf("aggregate role = %v, want viewer (memberships include secretario)", got.Role)
	}
	if !got.Aggregate {
		t.Error("Aggregate = false, want true")
	}
	if got.SuperAdmin {
		t.Error("SuperAdmin = true, want false")
	}
	if got.AtLeast(policy.RoleGestor) {
		t.Error("aggregate view must not satisfy gestor")
	}
}

func TestResolve_ActiveOrganization(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		active uuid.UUID
		want   policy.Role
	}{
		{"secretario in A", orgA, policy.RoleSecretario},
		{"viewer in B", orgB, policy.RoleViewer},
		{"no membership in C", orgC, policy.RoleNone},
		{"uuid.Nil is not aggregate", uuid.Nil, policy.RoleNone},
	}
	for _, tc := range cases {
		active := tc.active
		got := policy.Resolve(actor(&active, false))
		if got.Role != tc.want {
			t.Errorf("%s: role = %v, want %v", tc.name, got.Role, tc.want)
		}
		if got.Aggregate {
			t.Errorf("%s: Aggregate = true, want false", tc.name)
		}
	}
}

func TestResolve_NoMembershipHasNoAccess(t *testing.T) {
	t.Parallel()
	active := orgC
	got := policy.Resolve(actor(&active, false))
	if got.HasAccess() {
		t.Error("HasAccess() = true for org without membership")
	}
	if got.AtLeast(policy.RoleViewer) {
		t.Error("AtLeast(viewer) = true for org without membership")
	}
}

func TestResolve_SuperAdmin(t *testing.T) {
	t.Parallel()
	active := orgC
	for _, a := range []policy.ActorContext{actor(nil, true), actor(&active, true), {UserID: user, IsSuperAdmin: true}} {
		got := policy.Resolve(a)
		if got.Role != policy.RoleSecretario || !got.SuperAdmin {
			t.Errorf("super admin resolved to %+v, want secretario+SuperAdmin", got)
		}
		if !got.HasAccess() || !got.AtLeast(policy.RoleSecretario) || !got.CanAssign(policy.RoleSecretario) {
			t.Errorf("super admin %+v lacks expected capabilities", got)
		}
	}
}

func TestResolve_CorruptMembershipRoleFailsClosed(t *testing.T) {
	t.Parallel()
	active := orgA
	a := policy.ActorContext{
		UserID:               user,
		ActiveOrganizationID: &active,
		Memberships:          []policy.Membership{{UserID: user, OrganizationID: orgA, Role: "owner"}},
	}
	got := policy.Resolve(a)
	if got.Role != policy.RoleNone || got.HasAccess() {
		t.Errorf("corrupt role resolved to %+v, want RoleNone without access", got)
	}
}

func TestEffective_CanAssign(t *testing.T) {
	t.Parallel()
	gestor := policy.Effective{Role: policy.RoleGestor}
	if !gestor.CanAssign(policy.RoleGestor) {
		t.Error("gestor should assign gestor")
	}
	if gestor.CanAssign(policy.RoleSecretario) {
		t.Error("gestor must not assign secretario")
	}
	aggregate := policy.Resolve(actor(nil, false))
	if aggregate.CanAssign(policy.RoleViewer) {
		t.Error("aggregate view must not assign any role")
	}
}

func TestRoleIn(t *testing.T) {
	t.Parallel()
	a := actor(nil, false)
	if got := a.RoleIn(orgA); got != policy.RoleSecretario {
		t.Errorf("RoleIn(A) = %v, want secretario", got)
	}
	if got := a.RoleIn(orgC); got != policy.RoleNone {
		t.Errorf("RoleIn(C) = %v, want none", got)
	}
	if got := actor(nil, true).RoleIn(orgC); got != policy.RoleSecretario {
		t.Errorf("super admin RoleIn(C) = %v, want secretario", got)
	}
	if _, ok := a.MembershipFor(orgB); !ok {
		t.Error("MembershipFor(B) not found")
	}
}
