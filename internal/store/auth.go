// ABOUTME: Store methods for users: creation, lookup, global role, login bookkeeping.
// ABOUTME: These are global-table operations with no organization scope.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Global role values stored in users.global_role.
const (
	GlobalRoleUser       = "user"
	GlobalRoleSuperAdmin = "super_admin"
)

// User is a row of the users table.
type User struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	Name         string     `db:"name"`
	PasswordHash *string    `db:"password_hash"`
	GlobalRole   string     `db:"global_role"`
	IsActive     bool       `db:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// IsSuperAdmin reports whether the user holds the global super_admin role.
func (u *User) IsSuperAdmin() bool {
	return u.GlobalRole == GlobalRoleSuperAdmin
}

const userColumns = `id, email, name, password_hash, global_role, is_active, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.GlobalRole,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. Pass an empty passwordHash for accounts
// that can only sign in after accepting an invitation.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (*User, error) {
	var hash *string
	if passwordHash != "" {
		hash = &passwordHash
	}
	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
		email, name, hash))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user with the given ID, or (nil, nil) if not found.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the user with the given email (case-insensitive),
// or (nil, nil) if not found.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetGlobalRole sets users.global_role. role must be GlobalRoleUser or GlobalRoleSuperAdmin.
func (s *Store) SetGlobalRole(ctx context.Context, id uuid.UUID, role string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE users SET global_role = $2, updated_at = now() WHERE id = $1`, id, role); err != nil {
		return fmt.Errorf("set global role: %w", err)
	}
	return nil
}

// SetPasswordHash replaces the user's password hash.
func (s *Store) SetPasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash); err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	return nil
}

// UpdateLastLogin sets last_login_at to now for the given user.
func (s *Store) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
