// ABOUTME: Tests for role ordering, HasMinRole, CanAssignRole and their fail-closed behaviour.
// ABOUTME: Pure functions; no DB or network.
package policy_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gestaopublica/gestor/internal/policy"
)

func TestParseRole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  policy.Role
	}{
		{"viewer", policy.RoleViewer},
		{"gestor", policy.RoleGestor},
		{"secretario", policy.RoleSecretario},
		{"", policy.RoleNone},
		{"bogus-role", policy.RoleNone},
		{"Secretario", policy.RoleNone},
		{"admin", policy.RoleNone},
		{" viewer", policy.RoleNone},
	}
	for _, tc := range cases {
		if got := policy.ParseRole(tc.input); got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	t.Parallel()
	if !(policy.RoleNone < policy.RoleViewer && policy.RoleViewer < policy.RoleGestor && policy.RoleGestor < policy.RoleSecretario) {
		t.Error("role ordering: want none < viewer < gestor < secretario")
	}
	roles := policy.Roles()
	for i, r := range roles {
		if int(r) != i {
			t.Errorf("Roles()[%d] = %v, ordinal %d; want ordinal %d", i, r, int(r), i)
		}
	}
}

func TestHasMinRole_TotalOrder(t *testing.T) {
	t.Parallel()
	for _, actual := range policy.Roles() {
		for _, required := range policy.Roles() {
			want := int(actual) >= int(required)
			if got := policy.HasMinRole(actual.String(), required); got != want {
				t.Errorf("HasMinRole(%q, %v) = %v, want %v", actual, required, got, want)
			}
		}
	}
}

func TestHasMinRole_Examples(t *testing.T) {
	t.Parallel()
	cases := []struct {
		actual   string
		required policy.Role
		want     bool
	}{
		{"secretario", policy.RoleViewer, true},
		{"viewer", policy.RoleGestor, false},
		{"gestor", policy.RoleGestor, true},
		{"gestor", policy.RoleSecretario, false},
	}
	for _, tc := range cases {
		if got := policy.HasMinRole(tc.actual, tc.required); got != tc.want {
			t.Errorf("HasMinRole(%q, %v) = %v, want %v", tc.actual, tc.required, got, tc.want)
		}
	}
}

func TestHasMinRole_FailsClosedOnUnknownToken(t *testing.T) {
	t.Parallel()
	for _, bad := range []string{"bogus-role", "", "owner", "SECRETARIO", "none"} {
		for _, required := range policy.Roles() {
			if policy.HasMinRole(bad, required) {
				t.Errorf("HasMinRole(%q, %v) = true, want false", bad, required)
			}
		}
	}
}

func TestCanAssignRole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		assigner string
		target   string
		super    bool
		want     bool
	}{
		{"super admin bypasses ordinal checks", "viewer", "secretario", true, true},
		{"super admin with garbage role", "bogus", "secretario", true, true},
		{"gestor assigns gestor", "gestor", "gestor", false, true},
		{"gestor assigns viewer", "gestor", "viewer", false, true},
		{"gestor cannot assign secretario", "gestor", "secretario", false, false},
		{"secretario assigns secretario", "secretario", "secretario", false, true},
		{"secretario assigns viewer", "secretario", "viewer", false, true},
		{"viewer cannot assign viewer", "viewer", "viewer", false, false},
		{"viewer cannot assign gestor", "viewer", "gestor", false, false},
		{"unknown assigner", "bogus", "viewer", false, false},
		{"empty assigner", "", "viewer", false, false},
		{"unknown target under secretario", "secretario", "bogus", false, true},
		{"unknown target under gestor", "gestor", "bogus", false, true},
		{"unknown target under viewer", "viewer", "bogus", false, false},
	}
	for _, tc := range cases {
		if got := policy.CanAssignRole(tc.assigner, tc.target, tc.super); got != tc.want {
			t.Errorf("%s: CanAssignRole(%q, %q, %v) = %v, want %v",
				tc.name, tc.assigner, tc.target, tc.super, got, tc.want)
		}
	}
}

func TestCanAssign_TypedMatchesStringForm(t *testing.T) {
	t.Parallel()
	all := append([]policy.Role{policy.RoleNone}, policy.Roles()...)
	for _, a := range all {
		for _, tgt := range all {
			for _, super := range []bool{false, true} {
				typed := policy.CanAssign(a, tgt, super)
				str := policy.CanAssignRole(a.String(), tgt.String(), super)
				if typed != str {
					t.Errorf("CanAssign(%v, %v, %v) = %v but CanAssignRole = %v", a, tgt, super, typed, str)
				}
			}
		}
	}
}

func TestRole_CanAssignUnknownTargetFollowsCeiling(t *testing.T) {
	t.Parallel()
	cases := map[policy.Role]bool{
		policy.RoleViewer:     false,
		policy.RoleGestor:     true,
		policy.RoleSecretario: true,
	}
	for r, want := range cases {
		if got := r.CanAssign(policy.RoleNone); got != want {
			t.Errorf("%v.CanAssign(none) = %v, want %v", r, got, want)
		}
	}
	if policy.RoleNone.CanAssign(policy.RoleNone) {
		t.Error("an actor with no role must not assign anything")
	}
	if !policy.RoleSecretario.CanAssign(policy.RoleSecretario) || policy.RoleViewer.CanAssign(policy.RoleViewer) {
		t.Error("typed method disagrees with CanAssign")
	}
}

func TestPolicyIsIdempotent(t *testing.T) {
	t.Parallel()
	first := policy.HasMinRole("gestor", policy.RoleGestor)
	firstAssign := policy.CanAssignRole("gestor", "secretario", false)
	for i := 0; i < 100; i++ {
		if policy.HasMinRole("gestor", policy.RoleGestor) != first {
			t.Fatal("HasMinRole changed result between calls")
		}
		if policy.CanAssignRole("gestor", "secretario", false) != firstAssign {
			t.Fatal("CanAssignRole changed result between calls")
		}
	}
}

func TestRoleTextRoundTrip(t *testing.T) {
	t.Parallel()
	var body struct {
		Role policy.Role `json:"role"`
	}
	if err := json.Unmarshal([]byte(`{"role":"gestor"}`), &body); err != nil {
		t.Fatalf("unmarshal gestor: %v", err)
	}
	if body.Role != policy.RoleGestor {
		t.Errorf("role = %v, want gestor", body.Role)
	}

	err := json.Unmarshal([]byte(`{"role":"owner"}`), &body)
	if !errors.Is(err, policy.ErrUnknownRole) {
		t.Errorf("unmarshal owner: err = %v, want ErrUnknownRole", err)
	}

	if _, err := policy.RoleNone.MarshalText(); !errors.Is(err, policy.ErrUnknownRole) {
		t.Errorf("marshal RoleNone: err = %v, want ErrUnknownRole", err)
	}
	if got := policy.RoleNone.String(); got != "none" {
		t.Errorf("RoleNone.String() = %q, want none", got)
	}
}
