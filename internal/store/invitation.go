// ABOUTME: Store methods for organization invitations (create, resend, cancel, accept).
// ABOUTME: Accepting an invitation creates the membership and marks it accepted in one transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvitationUnusable is returned when accepting an invitation that is
// missing, no longer pending, or expired.
var ErrInvitationUnusable = errors.New("invitation is not pending or has expired")

// Invitation status values.
const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationCancelled = "cancelled"
)

// Invitation is a row of the invitations table.
type Invitation struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Email          string     `db:"email"`
	Role           string     `db:"role"`
	TokenHash      string     `db:"token_hash"`
	Status         string     `db:"status"`
	InviterID      *uuid.UUID `db:"inviter_id"`
	ExpiresAt      time.Time  `db:"expires_at"`
	AcceptedAt     *time.Time `db:"accepted_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Usable reports whether the invitation is pending and unexpired at now.
func (inv *Invitation) Usable(now time.Time) bool {
	return inv.Status == InvitationPending && now.Before(inv.ExpiresAt)
}

const invitationColumns = `id, organization_id, email, role, token_hash, status, inviter_id, expires_at, accepted_at, created_at, updated_at`

// CreateInvitation inserts a pending invitation. Only the token's hash is
// stored. A second pending invitation for the same (org, email) fails with a
// unique violation.
func (s *Store) CreateInvitation(ctx context.Context, orgID uuid.UUID, email, role, tokenHash string, inviterID uuid.UUID, expiresAt time.Time) (*Invitation, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO invitations (organization_id, email, role, token_hash, inviter_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+invitationColumns,
		orgID, email, role, tokenHash, inviterID, expiresAt)
	inv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
	if err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	return inv, nil
}

// GetInvitation returns the invitation with id in orgID, or (nil, nil).
func (s *Store) GetInvitation(ctx context.Context, orgID, id uuid.UUID) (*Invitation, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE organization_id = $1 AND id = $2`, orgID, id)
	inv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

// GetInvitationByTokenHash returns the invitation whose token hashes to
// tokenHash, or (nil, nil). Callers check status and expiry.
func (s *Store) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash)
	inv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation by token: %w", err)
	}
	return inv, nil
}

// GetPendingInvitationByEmail returns the pending invitation for email in
// orgID, or (nil, nil).
func (s *Store) GetPendingInvitationByEmail(ctx context.Context, orgID uuid.UUID, email string) (*Invitation, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE organization_id = $1 AND lower(email) = lower($2) AND status = 'pending'`, orgID, email)
	inv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending invitation: %w", err)
	}
	return inv, nil
}

// ListPendingInvitations returns pending invitations of orgID whose email
// contains search (case-insensitive; empty matches all).
func (s *Store) ListPendingInvitations(ctx context.Context, orgID uuid.UUID, search string) ([]Invitation, error) {
	query, args, err := pendingInvitationsQuery(orgID, search)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: build query: %w", err)
	}
	rows, _ := s.pool.Query(ctx, query, args...)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Invitation])
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	return out, nil
}

// RenewInvitation rotates a pending invitation's token and pushes its expiry
// to expiresAt. The previous link stops working. Returns false if the
// invitation is not pending.
func (s *Store) RenewInvitation(ctx context.Context, orgID, id uuid.UUID, tokenHash string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invitations SET token_hash = $3, expires_at = $4, updated_at = now()
		 WHERE organization_id = $1 AND id = $2 AND status = 'pending'`, orgID, id, tokenHash, expiresAt)
	if err != nil {
		return false, fmt.Errorf("renew invitation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelInvitation marks a pending invitation cancelled. Returns false if the
// invitation does not exist in orgID or is no longer pending.
func (s *Store) CancelInvitation(ctx context.Context, orgID, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invitations SET status = 'cancelled', updated_at = now()
		 WHERE organization_id = $1 AND id = $2 AND status = 'pending'`, orgID, id)
	if err != nil {
		return false, fmt.Errorf("cancel invitation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AcceptInvitation atomically creates the membership for an existing user
// and marks the invitation accepted. The invitation row is locked so it is
// consumed once. Returns ErrInvitationUnusable when it is no longer pending
// or has expired.
func (s *Store) AcceptInvitation(ctx context.Context, id, userID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockUsableInvitation(ctx, tx, id)
		if err != nil {
			return err
		}
		return consumeInvitation(ctx, tx, inv, userID)
	})
}

// AcceptInvitationWithSignup creates the invited user's account, its
// membership and marks the invitation accepted, all in one transaction.
// Returns ErrInvitationUnusable for a consumed or expired invitation; a
// pre-existing account with the invited email surfaces as a unique violation.
func (s *Store) AcceptInvitationWithSignup(ctx context.Context, id uuid.UUID, name, passwordHash string) (*User, error) {
	var user *User
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		inv, err := lockUsableInvitation(ctx, tx, id)
		if err != nil {
			return err
		}
		user, err = scanUser(tx.QueryRow(ctx,
			`INSERT INTO users (email, name, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
			inv.Email, name, passwordHash))
		if err != nil {
			return fmt.Errorf("create invited user: %w", err)
		}
		return consumeInvitation(ctx, tx, inv, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func lockUsableInvitation(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Invitation, error) {
	rows, _ := tx.Query(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`, id)
	inv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
	if notFound(err) {
		return nil, ErrInvitationUnusable
	}
	if err != nil {
		return nil, fmt.Errorf("lock invitation: %w", err)
	}
	if !inv.Usable(time.Now()) {
		return nil, ErrInvitationUnusable
	}
	return inv, nil
}

func consumeInvitation(ctx context.Context, tx pgx.Tx, inv *Invitation, userID uuid.UUID) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO memberships (user_id, organization_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, organization_id) DO NOTHING`,
		userID, inv.OrganizationID, inv.Role); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE invitations SET status = 'accepted', accepted_at = now(), updated_at = now() WHERE id = $1`,
		inv.ID); err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	return nil
}
