// ABOUTME: HTTP handlers for the session's active organization (list and switch).
// ABOUTME: A null organization_id selects the aggregate view; super admins may select any org.
package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/policy"
)

// orgSessionEntry is one selectable organization.
type orgSessionEntry struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Code           string `json:"code"`
	Role           string `json:"role"`
}

// orgSessionResponse is the JSON body for GET and POST /api/v1/org-session.
type orgSessionResponse struct {
	ActiveOrganizationID *string           `json:"active_organization_id"`
	IsSuperAdmin         bool              `json:"is_super_admin"`
	Organizations        []orgSessionEntry `json:"organizations"`
}

// switchOrgSessionBody is the JSON request body for POST /api/v1/org-session.
type switchOrgSessionBody struct {
	OrganizationID *uuid.UUID `json:"organization_id"`
}

// selectableOrgs lists the orgs actor may switch to. Super admins see every
// org and are reported as secretario in each.
func (srv *Server) selectableOrgs(r *http.Request, actor policy.ActorContext) ([]orgSessionEntry, error) {
	if actor.IsSuperAdmin {
		orgs, err := srv.store.ListOrgs(r.Context())
		if err != nil {
			return nil, err
		}
		out := make([]orgSessionEntry, 0, len(orgs))
		for _, o := range orgs {
			out = append(out, orgSessionEntry{
				OrganizationID: o.ID.String(),
				Name:           o.Name,
				Code:           o.Code,
				Role:           policy.RoleSecretario.String(),
			})
		}
		return out, nil
	}
	rows, err := srv.store.ListUserOrgs(r.Context(), actor.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]orgSessionEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, orgSessionEntry{
			OrganizationID: row.OrganizationID.String(),
			Name:           row.Name,
			Code:           row.Code,
			Role:           row.Role,
		})
	}
	return out, nil
}

func (srv *Server) writeOrgSession(w http.ResponseWriter, r *http.Request, actor policy.ActorContext, active *uuid.UUID) {
	orgs, err := srv.selectableOrgs(r, actor)
	if err != nil {
		slog.ErrorContext(r.Context(), "org session: list orgs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := orgSessionResponse{IsSuperAdmin: actor.IsSuperAdmin, Organizations: orgs}
	if active != nil {
		id := active.String()
		resp.ActiveOrganizationID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

// getOrgSessionHandler handles GET /api/v1/org-session.
func (srv *Server) getOrgSessionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	srv.writeOrgSession(w, r, actor, actor.ActiveOrganizationID)
}

// switchOrgSessionHandler handles POST /api/v1/org-session.
// Non-members get 403 whether or not the org exists; only super admins can
// observe a 404.
func (srv *Server) switchOrgSessionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID, ok := sessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req switchOrgSessionBody
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.OrganizationID != nil {
		orgID := *req.OrganizationID
		if orgID == uuid.Nil {
			http.Error(w, "invalid organization_id", http.StatusBadRequest)
			return
		}
		if _, member := actor.MembershipFor(orgID); !member && !actor.IsSuperAdmin {
			deny(w, r, checkOrgSession)
			return
		}
		org, err := srv.store.GetOrgByID(r.Context(), orgID)
		if err != nil {
			slog.ErrorContext(r.Context(), "org session: get org", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if org == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
	}

	if err := srv.store.SetActiveOrganization(r.Context(), sessionID, req.OrganizationID); err != nil {
		slog.ErrorContext(r.Context(), "org session: set active org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	srv.resolver.Invalidate(sessionID)

	actor.ActiveOrganizationID = req.OrganizationID
	srv.writeOrgSession(w, r, actor, req.OrganizationID)
}
