// ABOUTME: Store methods for organizations and memberships.
// ABOUTME: Membership removal enforces the last-secretario guard inside one transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrLastSecretario is returned when an operation would leave an organization
// without any secretario.
var ErrLastSecretario = errors.New("organization must keep at least one secretario")

// Organization is a row of the organizations table.
type Organization struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Code      string    `db:"code"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Membership is a row of the memberships table. Role is the stored token.
type Membership struct {
	UserID         uuid.UUID `db:"user_id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	Role           string    `db:"role"`
	CreatedAt      time.Time `db:"created_at"`
}

// UserOrg is one organization a user belongs to, with their role there.
type UserOrg struct {
	OrganizationID uuid.UUID `db:"organization_id"`
	Name           string    `db:"name"`
	Code           string    `db:"code"`
	Role           string    `db:"role"`
}

// OrgMember is one member of an organization joined with the user row.
type OrgMember struct {
	UserID   uuid.UUID `db:"user_id"`
	Name     string    `db:"name"`
	Email    string    `db:"email"`
	IsActive bool      `db:"is_active"`
	Role     string    `db:"role"`
	JoinedAt time.Time `db:"created_at"`
}

const orgColumns = `id, name, code, created_at, updated_at`

// CreateOrg inserts a new organization row.
func (s *Store) CreateOrg(ctx context.Context, name, code string) (*Organization, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO organizations (name, code) VALUES ($1, $2) RETURNING `+orgColumns, name, code)
	org, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Organization])
	if err != nil {
		return nil, fmt.Errorf("create org: %w", err)
	}
	return org, nil
}

// CreateOrgWithSecretario atomically creates an organization and makes
// userID its first secretario.
func (s *Store) CreateOrgWithSecretario(ctx context.Context, name, code string, userID uuid.UUID) (*Organization, error) {
	var org *Organization
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx,
			`INSERT INTO organizations (name, code) VALUES ($1, $2) RETURNING `+orgColumns, name, code)
		created, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Organization])
		if err != nil {
			return fmt.Errorf("create org: %w", err)
		}
		org = created
		if _, err := tx.Exec(ctx,
			`INSERT INTO memberships (user_id, organization_id, role) VALUES ($1, $2, 'secretario')`,
			userID, org.ID); err != nil {
			return fmt.Errorf("create org membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrgByID returns the organization, or (nil, nil) if not found.
func (s *Store) GetOrgByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	org, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Organization])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get org by id: %w", err)
	}
	return org, nil
}

// ListOrgs returns every organization ordered by name. Super-admin views only.
func (s *Store) ListOrgs(ctx context.Context) ([]Organization, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY name`)
	orgs, err := pgx.CollectRows(rows, pgx.RowToStructByName[Organization])
	if err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	return orgs, nil
}

// UpdateOrg renames an organization. Returns (nil, nil) if not found.
func (s *Store) UpdateOrg(ctx context.Context, id uuid.UUID, name string) (*Organization, error) {
	rows, _ := s.pool.Query(ctx,
		`UPDATE organizations SET name = $2, updated_at = now() WHERE id = $1 RETURNING `+orgColumns, id, name)
	org, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Organization])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update org: %w", err)
	}
	return org, nil
}

// GetMembership returns userID's membership in orgID, or (nil, nil) if none.
func (s *Store) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT user_id, organization_id, role, created_at FROM memberships
		 WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Membership])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// CreateMembership adds userID to orgID with role.
func (s *Store) CreateMembership(ctx context.Context, orgID, userID uuid.UUID, role string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (user_id, organization_id, role) VALUES ($1, $2, $3)`,
		userID, orgID, role); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// ListUserOrgs returns every organization userID belongs to, ordered by name.
func (s *Store) ListUserOrgs(ctx context.Context, userID uuid.UUID) ([]UserOrg, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT o.id AS organization_id, o.name, o.code, m.role
		 FROM memberships m JOIN organizations o ON o.id = m.organization_id
		 WHERE m.user_id = $1 ORDER BY o.name`, userID)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[UserOrg])
	if err != nil {
		return nil, fmt.Errorf("list user orgs: %w", err)
	}
	return out, nil
}

// ListOrgMembers returns the members of orgID, excluding super admins, whose
// name or email contains search (case-insensitive; empty matches all).
func (s *Store) ListOrgMembers(ctx context.Context, orgID uuid.UUID, search string) ([]OrgMember, error) {
	query, args, err := orgMembersQuery(orgID, search)
	if err != nil {
		return nil, fmt.Errorf("list org members: build query: %w", err)
	}
	rows, _ := s.pool.Query(ctx, query, args...)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[OrgMember])
	if err != nil {
		return nil, fmt.Errorf("list org members: %w", err)
	}
	return out, nil
}

// UpdateMembershipRole changes userID's role in orgID and returns the previous
// role, or ("", nil) if the membership does not exist. Demoting the last
// secretario returns ErrLastSecretario.
func (s *Store) UpdateMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role string) (string, error) {
	var previous string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockMembership(ctx, tx, orgID, userID)
		if err != nil || cur == "" {
			return err
		}
		if cur == "secretario" && role != "secretario" {
			if err := ensureOtherSecretario(ctx, tx, orgID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE memberships SET role = $3 WHERE organization_id = $1 AND user_id = $2`,
			orgID, userID, role); err != nil {
			return fmt.Errorf("update membership role: %w", err)
		}
		previous = cur
		return nil
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// RemoveMembership deletes userID's membership in orgID and returns the
// removed role, or ("", nil) if there was none. Removing the last secretario
// returns ErrLastSecretario.
func (s *Store) RemoveMembership(ctx context.Context, orgID, userID uuid.UUID) (string, error) {
	var removed string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := lockMembership(ctx, tx, orgID, userID)
		if err != nil || cur == "" {
			return err
		}
		if cur == "secretario" {
			if err := ensureOtherSecretario(ctx, tx, orgID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID); err != nil {
			return fmt.Errorf("remove membership: %w", err)
		}
		// Sessions pointing at the org fall back to the aggregate view.
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET active_organization_id = NULL, updated_at = now()
			 WHERE user_id = $1 AND active_organization_id = $2`, userID, orgID); err != nil {
			return fmt.Errorf("reset sessions: %w", err)
		}
		removed = cur
		return nil
	})
	if err != nil {
		return "", err
	}
	return removed, nil
}

// lockMembership returns the current role with the org's secretario rows
// locked, or "" if userID is not a member.
func lockMembership(ctx context.Context, tx pgx.Tx, orgID, userID uuid.UUID) (string, error) {
	// Lock every secretario row so concurrent demotions serialize on the guard.
	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM memberships WHERE organization_id = $1 AND role = 'secretario' FOR UPDATE`, orgID); err != nil {
		return "", fmt.Errorf("lock secretarios: %w", err)
	}
	var role string
	err := tx.QueryRow(ctx,
		`SELECT role FROM memberships WHERE organization_id = $1 AND user_id = $2 FOR UPDATE`,
		orgID, userID).Scan(&role)
	if notFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock membership: %w", err)
	}
	return role, nil
}

func ensureOtherSecretario(ctx context.Context, tx pgx.Tx, orgID uuid.UUID) error {
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE organization_id = $1 AND role = 'secretario'`,
		orgID).Scan(&n); err != nil {
		return fmt.Errorf("count secretarios: %w", err)
	}
	if n <= 1 {
		return ErrLastSecretario
	}
	return nil
}
