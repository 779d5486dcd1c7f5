// ABOUTME: HTTP handlers for pending invitations: resend (new token, new expiry) and cancel.
// ABOUTME: Both require gestor and the ceiling over the invited role.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/auth"
	"github.com/gestaopublica/gestor/internal/notify"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
)

// resendInvitationResponse is the JSON body for POST .../invitations/{id}/resend.
type resendInvitationResponse struct {
	ID        string `json:"id"`
	ExpiresAt string `json:"expires_at"`
}

// pendingInvitation loads {id} in orgID and checks that the caller may manage
// its role. Returns nil after writing an error response.
func (srv *Server) pendingInvitation(w http.ResponseWriter, r *http.Request, actor policy.ActorContext, orgID uuid.UUID) *store.Invitation {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil
	}
	inv, err := srv.store.GetInvitation(r.Context(), orgID, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "get invitation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if inv == nil {
		http.Error(w, "invitation not found", http.StatusNotFound)
		return nil
	}
	if inv.Status != store.InvitationPending {
		http.Error(w, "invitation is no longer pending", http.StatusConflict)
		return nil
	}
	if !policy.CanAssign(roleFromContext(r.Context()), policy.ParseRole(inv.Role), actor.IsSuperAdmin) {
		deny(w, r, checkAssignRole)
		return nil
	}
	return inv
}

// resendInvitationHandler handles POST /api/v1/orgs/{org_id}/invitations/{id}/resend.
// The token is rotated, so links from earlier emails stop working.
func (srv *Server) resendInvitationHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)

	inv := srv.pendingInvitation(w, r, actor, orgID)
	if inv == nil {
		return
	}

	rawToken, tokenHash, err := auth.GenerateInvitationToken()
	if err != nil {
		slog.ErrorContext(r.Context(), "resend invitation: generate token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	expiresAt := time.Now().Add(srv.invitationTTL())
	renewed, err := srv.store.RenewInvitation(r.Context(), orgID, inv.ID, tokenHash, expiresAt)
	if err != nil {
		slog.ErrorContext(r.Context(), "resend invitation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !renewed {
		http.Error(w, "invitation is no longer pending", http.StatusConflict)
		return
	}

	org, err := srv.store.GetOrgByID(r.Context(), orgID)
	if err != nil || org == nil {
		slog.ErrorContext(r.Context(), "resend invitation: get org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	srv.audit(r.Context(), actor.UserID, orgID, store.AuditUpdate, "invitation", inv.ID.String(),
		map[string]any{"email": inv.Email, "resent": true})
	srv.sendEmail(r.Context(), notify.EmailJob{
		Kind:      notify.KindInvitation,
		To:        inv.Email,
		OrgName:   org.Name,
		Role:      inv.Role,
		Link:      srv.acceptURL(rawToken),
		ExpiresAt: expiresAt,
	})

	writeJSON(w, http.StatusOK, resendInvitationResponse{
		ID:        inv.ID.String(),
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

// cancelInvitationHandler handles DELETE /api/v1/orgs/{org_id}/invitations/{id}.
func (srv *Server) cancelInvitationHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)

	inv := srv.pendingInvitation(w, r, actor, orgID)
	if inv == nil {
		return
	}

	cancelled, err := srv.store.CancelInvitation(r.Context(), orgID, inv.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "cancel invitation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, "invitation is no longer pending", http.StatusConflict)
		return
	}

	srv.audit(r.Context(), actor.UserID, orgID, store.AuditDelete, "invitation", inv.ID.String(),
		map[string]any{"email": inv.Email})

	w.WriteHeader(http.StatusNoContent)
}
