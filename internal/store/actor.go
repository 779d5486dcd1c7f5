// ABOUTME: LoadActorSnapshot reads session, user and memberships from one database snapshot.
// ABOUTME: The result feeds policy.ActorContext; a torn read would mix stale and fresh state.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ActorSnapshot is the raw material for a per-request ActorContext.
type ActorSnapshot struct {
	Session     Session
	User        User
	Memberships []Membership
}

// LoadActorSnapshot returns the session, its user and the user's memberships,
// all read in one REPEATABLE READ transaction. Returns (nil, nil) when the
// session does not exist, is expired, or belongs to an inactive user.
func (s *Store) LoadActorSnapshot(ctx context.Context, sessionID uuid.UUID) (*ActorSnapshot, error) {
	var snap *ActorSnapshot
	err := s.withSnapshotTx(ctx, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND expires_at > now()`, sessionID)
		sess, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Session])
		if notFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, sess.UserID))
		if notFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !user.IsActive {
			return nil
		}

		rows, _ = tx.Query(ctx,
			`SELECT user_id, organization_id, role, created_at FROM memberships WHERE user_id = $1`, user.ID)
		memberships, err := pgx.CollectRows(rows, pgx.RowToStructByName[Membership])
		if err != nil {
			return fmt.Errorf("load memberships: %w", err)
		}

		snap = &ActorSnapshot{Session: sess, User: *user, Memberships: memberships}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load actor snapshot: %w", err)
	}
	return snap, nil
}
