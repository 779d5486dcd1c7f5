// ABOUTME: HTTP handlers for org management: create, read, update.
// ABOUTME: Routes use chi middleware (not huma.Register) for per-group RBAC enforcement.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/store"
)

// createOrgBody is the JSON request body for POST /api/v1/orgs.
// SecretarioID optionally names the organization's first secretario.
type createOrgBody struct {
	Name         string     `json:"name"`
	Code         string     `json:"code"`
	SecretarioID *uuid.UUID `json:"secretario_id,omitempty"`
}

// orgResponseBody is the JSON response body for the org endpoints.
type orgResponseBody struct {
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
}

// updateOrgBody is the JSON request body for PATCH /api/v1/orgs/{org_id}.
type updateOrgBody struct {
	Name string `json:"name"`
}

func orgResponse(org *store.Organization) orgResponseBody {
	return orgResponseBody{
		OrgID:     org.ID.String(),
		Name:      org.Name,
		Code:      org.Code,
		CreatedAt: org.CreatedAt.Format(time.RFC3339),
	}
}

// createOrgHandler handles POST /api/v1/orgs. Super admin only.
func (srv *Server) createOrgHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createOrgBody
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.TrimSpace(req.Code)
	if req.Name == "" || req.Code == "" {
		http.Error(w, "name and code are required", http.StatusBadRequest)
		return
	}

	var (
		org *store.Organization
		err error
	)
	if req.SecretarioID != nil {
		user, lookupErr := srv.store.GetUserByID(r.Context(), *req.SecretarioID)
		if lookupErr != nil {
			slog.ErrorContext(r.Context(), "create org: get secretario", "error", lookupErr)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if user == nil || !user.IsActive {
			http.Error(w, "secretario_id does not name an active user", http.StatusUnprocessableEntity)
			return
		}
		org, err = srv.store.CreateOrgWithSecretario(r.Context(), req.Name, req.Code, user.ID)
	} else {
		org, err = srv.store.CreateOrg(r.Context(), req.Name, req.Code)
	}
	if store.IsUniqueViolation(err) {
		http.Error(w, "organization code already in use", http.StatusConflict)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "create org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	meta := map[string]any{"name": org.Name, "code": org.Code}
	if req.SecretarioID != nil {
		srv.resolver.InvalidateUser(*req.SecretarioID)
		meta["secretario_id"] = req.SecretarioID.String()
	}
	srv.audit(r.Context(), actor.UserID, org.ID, store.AuditCreate, "organization", org.ID.String(), meta)

	writeJSON(w, http.StatusCreated, orgResponse(org))
}

// getOrgHandler handles GET /api/v1/orgs/{org_id}.
// Requires at least viewer role (enforced by RequireOrgRole middleware).
func (srv *Server) getOrgHandler(w http.ResponseWriter, r *http.Request) {
	orgID, ok := r.Context().Value(ctxOrgID).(uuid.UUID)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	org, err := srv.store.GetOrgByID(r.Context(), orgID)
	if err != nil {
		slog.ErrorContext(r.Context(), "get org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if org == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, orgResponse(org))
}

// updateOrgHandler handles PATCH /api/v1/orgs/{org_id}.
// Requires secretario (enforced by RequireOrgRole middleware).
func (srv *Server) updateOrgHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, ok := r.Context().Value(ctxOrgID).(uuid.UUID)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var req updateOrgBody
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	org, err := srv.store.UpdateOrg(r.Context(), orgID, req.Name)
	if err != nil {
		slog.ErrorContext(r.Context(), "update org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if org == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	srv.audit(r.Context(), actor.UserID, org.ID, store.AuditUpdate, "organization", org.ID.String(),
		map[string]any{"name": org.Name})

	writeJSON(w, http.StatusOK, orgResponse(org))
}
