// ABOUTME: Store methods for login sessions and the active-organization selection.
// ABOUTME: A NULL active_organization_id is the aggregate view across all organizations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Session is a row of the sessions table.
type Session struct {
	ID                   uuid.UUID  `db:"id"`
	UserID               uuid.UUID  `db:"user_id"`
	ActiveOrganizationID *uuid.UUID `db:"active_organization_id"`
	ExpiresAt            time.Time  `db:"expires_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

const sessionColumns = `id, user_id, active_organization_id, expires_at, created_at, updated_at`

// CreateSession inserts a new session for userID expiring at expiresAt.
// New sessions start in the aggregate view.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*Session, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO sessions (user_id, expires_at) VALUES ($1, $2) RETURNING `+sessionColumns,
		userID, expiresAt)
	sess, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Session])
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the unexpired session with id, or (nil, nil).
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > now()`, id)
	sess, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Session])
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// SetActiveOrganization stores the session's organization selection.
// orgID nil switches the session to the aggregate view.
func (s *Store) SetActiveOrganization(ctx context.Context, sessionID uuid.UUID, orgID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active_organization_id = $2, updated_at = now() WHERE id = $1`,
		sessionID, orgID)
	if err != nil {
		return fmt.Errorf("set active organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set active organization: session %s not found", sessionID)
	}
	return nil
}

// DeleteSession removes a session (logout).
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions whose expiry is in the past and
// returns how many were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
