// ABOUTME: Store methods for the audit_logs table.
// ABOUTME: Entries record who changed which membership or invitation, with JSON metadata.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Audit actions.
const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// AuditEntry is one audit_logs row.
type AuditEntry struct {
	ID             uuid.UUID       `db:"id"`
	UserID         *uuid.UUID      `db:"user_id"`
	OrganizationID *uuid.UUID      `db:"organization_id"`
	Action         string          `db:"action"`
	Resource       string          `db:"resource"`
	ResourceID     string          `db:"resource_id"`
	Metadata       json.RawMessage `db:"metadata"`
	CreatedAt      time.Time       `db:"created_at"`
}

// InsertAuditLog records an audit entry. metadata may be nil.
func (s *Store) InsertAuditLog(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, action, resource, resourceID string, metadata map[string]any) error {
	var meta []byte
	if metadata != nil {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (user_id, organization_id, action, resource, resource_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, orgID, action, resource, resourceID, meta); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the most recent limit entries for orgID, newest first.
func (s *Store) ListAuditLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]AuditEntry, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT id, user_id, organization_id, action, resource, resource_id,
		        COALESCE(metadata, 'null'::jsonb) AS metadata, created_at
		 FROM audit_logs WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2`, orgID, limit)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[AuditEntry])
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return out, nil
}

// AuditLogView is an audit entry joined with the acting user's name and email.
// Both are nil when the entry has no user or the user was deleted.
type AuditLogView struct {
	ID             uuid.UUID       `db:"id"`
	OrganizationID *uuid.UUID      `db:"organization_id"`
	Action         string          `db:"action"`
	Resource       string          `db:"resource"`
	ResourceID     string          `db:"resource_id"`
	Metadata       json.RawMessage `db:"metadata"`
	CreatedAt      time.Time       `db:"created_at"`
	UserName       *string         `db:"user_name"`
	UserEmail      *string         `db:"user_email"`
}

// ListRecentAuditLogs returns the newest limit entries across every
// organization. Only super admins may see its output.
func (s *Store) ListRecentAuditLogs(ctx context.Context, limit int) ([]AuditLogView, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT a.id, a.organization_id, a.action, a.resource, a.resource_id,
		        COALESCE(a.metadata, 'null'::jsonb) AS metadata, a.created_at,
		        u.name AS user_name, u.email AS user_email
		 FROM audit_logs a
		 LEFT JOIN users u ON u.id = a.user_id
		 ORDER BY a.created_at DESC, a.id
		 LIMIT $1`, limit)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[AuditLogView])
	if err != nil {
		return nil, fmt.Errorf("list recent audit logs: %w", err)
	}
	return out, nil
}
