// ABOUTME: Integration tests for user store methods (CreateUser, GetUserByEmail, global role).
// ABOUTME: Uses testutil.NewTestDB which starts a real Postgres container with migrations.
package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/store"
	"github.com/gestaopublica/gestor/internal/testutil"
)

func TestCreateAndGetUser(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice@example.com", "Alice", "$argon2id$stub")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Name != "Alice" {
		t.Errorf("Name = %q, want %q", user.Name, "Alice")
	}
	if user.GlobalRole != store.GlobalRoleUser || user.IsSuperAdmin() {
		t.Errorf("new user global role = %q, want %q", user.GlobalRole, store.GlobalRoleUser)
	}
	if !user.IsActive {
		t.Error("new user should be active")
	}

	// Email lookup is case-insensitive.
	got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Fatalf("GetUserByEmail = %+v, want ID %v", got, user.ID)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	s.MustUser(t, "dup@example.com", "One", "")
	_, err := s.CreateUser(ctx, "dup@example.com", "Two", "")
	if !store.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	got, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for non-existent email, got %+v", got)
	}
	byID, err := s.GetUserByID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID != nil {
		t.Errorf("expected nil for non-existent id, got %+v", byID)
	}
}

func TestSetGlobalRoleAndPassword(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestDB(t)
	ctx := context.Background()

	u := s.MustUser(t, "bob@example.com", "Bob", "")
	if u.PasswordHash != nil {
		t.Errorf("empty hash should store NULL, got %q", *u.PasswordHash)
	}
	if err := s.SetGlobalRole(ctx, u.ID, store.GlobalRoleSuperAdmin); err != nil {
		t.Fatalf("SetGlobalRole: %v", err)
	}
	if err := s.SetPasswordHash(ctx, u.ID, "$argon2id$new"); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}
	if err := s.UpdateLastLogin(ctx, u.ID); err != nil {
		t.Fatalf("UpdateLastLogin: %v", err)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !got.IsSuperAdmin() {
		t.Error("user should be super admin")
	}
	if got.PasswordHash == nil || *got.PasswordHash != "$argon2id$new" {
		t.Errorf("PasswordHash = %v", got.PasswordHash)
	}
	if got.LastLoginAt == nil {
		t.Error("LastLoginAt should be set")
	}
}
