// ABOUTME: Super-admin endpoints that read across every organization.
// ABOUTME: GET /api/v1/admin/audit-logs returns the newest audit entries with actor name and email.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// recentAuditLimit caps the cross-tenant audit listing.
const recentAuditLimit = 50

type auditLogEntry struct {
	ID             string          `json:"id"`
	OrganizationID *string         `json:"organization_id"`
	Action         string          `json:"action"`
	Resource       string          `json:"resource"`
	ResourceID     string          `json:"resource_id"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      string          `json:"created_at"`
	UserName       *string         `json:"user_name"`
	UserEmail      *string         `json:"user_email"`
}

// listAuditLogsHandler handles GET /api/v1/admin/audit-logs.
func (srv *Server) listAuditLogsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := srv.store.ListRecentAuditLogs(r.Context(), recentAuditLimit)
	if err != nil {
		slog.ErrorContext(r.Context(), "list audit logs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]auditLogEntry, 0, len(entries))
	for _, e := range entries {
		entry := auditLogEntry{
			ID:         e.ID.String(),
			Action:     e.Action,
			Resource:   e.Resource,
			ResourceID: e.ResourceID,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
			UserName:   e.UserName,
			UserEmail:  e.UserEmail,
		}
		if e.OrganizationID != nil {
			id := e.OrganizationID.String()
			entry.OrganizationID = &id
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}
