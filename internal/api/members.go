// ABOUTME: HTTP handlers for org member management: list, add or invite, change role, remove.
// ABOUTME: Every mutation applies the role-assignment ceiling and invalidates the target's cached actor.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/auth"
	"github.com/gestaopublica/gestor/internal/notify"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
)

// memberEntry is one member in the list response.
type memberEntry struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

// invitationEntry is one pending invitation in the list response.
type invitationEntry struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// membersMeta tells clients what the caller may do in this organization.
type membersMeta struct {
	CanManage bool   `json:"can_manage"`
	UserRole  string `json:"user_role"`
}

// listMembersResponse is the JSON body for GET /api/v1/orgs/{org_id}/members.
type listMembersResponse struct {
	Members     []memberEntry     `json:"members"`
	Invitations []invitationEntry `json:"invitations"`
	Meta        membersMeta       `json:"meta"`
}

// addMemberBody is the JSON request body for POST /api/v1/orgs/{org_id}/members.
type addMemberBody struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// addMemberResponse reports whether an existing user was added or an invitation was sent.
type addMemberResponse struct {
	Status       string `json:"status"` // "added" or "invited"
	UserID       string `json:"user_id,omitempty"`
	InvitationID string `json:"invitation_id,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

// updateMemberRoleBody is the JSON request body for PATCH /api/v1/orgs/{org_id}/members/{user_id}.
type updateMemberRoleBody struct {
	Role string `json:"role"`
}

// normalizeEmail lower-cases and validates a bare address.
func normalizeEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return s, true
}

// parseTargetRole parses a role from a request body. Unknown tokens are rejected.
func parseTargetRole(s string) (policy.Role, bool) {
	var r policy.Role
	if err := r.UnmarshalText([]byte(s)); err != nil {
		return policy.RoleNone, false
	}
	return r, true
}

func (srv *Server) loginURL() string { return strings.TrimRight(srv.cfg.ExternalURL, "/") + "/login" }

func (srv *Server) acceptURL(rawToken string) string {
	return strings.TrimRight(srv.cfg.ExternalURL, "/") + "/invitations/" + rawToken
}

// listMembersHandler handles GET /api/v1/orgs/{org_id}/members?search=.
// Pending invitations are included only for callers who can manage members.
func (srv *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)
	role := roleFromContext(r.Context())
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	members, err := srv.store.ListOrgMembers(r.Context(), orgID, search)
	if err != nil {
		slog.ErrorContext(r.Context(), "list members", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := listMembersResponse{
		Members:     make([]memberEntry, 0, len(members)),
		Invitations: []invitationEntry{},
		Meta: membersMeta{
			CanManage: role.AtLeast(policy.RoleGestor),
			UserRole:  role.String(),
		},
	}
	for _, m := range members {
		resp.Members = append(resp.Members, memberEntry{
			UserID:   m.UserID.String(),
			Name:     m.Name,
			Email:    m.Email,
			IsActive: m.IsActive,
			Role:     m.Role,
			JoinedAt: m.JoinedAt.Format(time.RFC3339),
		})
	}

	if resp.Meta.CanManage {
		invs, err := srv.store.ListPendingInvitations(r.Context(), orgID, search)
		if err != nil {
			slog.ErrorContext(r.Context(), "list invitations", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, inv := range invs {
			resp.Invitations = append(resp.Invitations, invitationEntry{
				ID:        inv.ID.String(),
				Email:     inv.Email,
				Role:      inv.Role,
				ExpiresAt: inv.ExpiresAt.Format(time.RFC3339),
				CreatedAt: inv.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// addMemberHandler handles POST /api/v1/orgs/{org_id}/members.
// An existing account is added directly; any other address gets an invitation.
func (srv *Server) addMemberHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)

	var req addMemberBody
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return
	}
	target, ok := parseTargetRole(req.Role)
	if !ok {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	if !policy.CanAssign(roleFromContext(r.Context()), target, actor.IsSuperAdmin) {
		deny(w, r, checkAssignRole)
		return
	}

	org, err := srv.store.GetOrgByID(r.Context(), orgID)
	if err != nil {
		slog.ErrorContext(r.Context(), "add member: get org", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if org == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	user, err := srv.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		slog.ErrorContext(r.Context(), "add member: lookup email", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user != nil {
		srv.addExistingMember(w, r, actor, org, user, target)
		return
	}
	srv.inviteMember(w, r, actor, org, email, target)
}

func (srv *Server) addExistingMember(w http.ResponseWriter, r *http.Request, actor policy.ActorContext, org *store.Organization, user *store.User, role policy.Role) {
	existing, err := srv.store.GetMembership(r.Context(), org.ID, user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "add member: get membership", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "user is already a member of this organization", http.StatusConflict)
		return
	}
	err = srv.store.CreateMembership(r.Context(), org.ID, user.ID, role.String())
	if store.IsUniqueViolation(err) {
		http.Error(w, "user is already a member of this organization", http.StatusConflict)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "add member: create membership", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	srv.resolver.InvalidateUser(user.ID)
	srv.audit(r.Context(), actor.UserID, org.ID, store.AuditCreate, "membership", user.ID.String(),
		map[string]any{"email": user.Email, "role": role.String()})
	srv.sendEmail(r.Context(), notify.EmailJob{
		Kind:    notify.KindMemberAdded,
		To:      user.Email,
		OrgName: org.Name,
		Role:    role.String(),
		Link:    srv.loginURL(),
	})

	writeJSON(w, http.StatusCreated, addMemberResponse{Status: "added", UserID: user.ID.String()})
}

func (srv *Server) inviteMember(w http.ResponseWriter, r *http.Request, actor policy.ActorContext, org *store.Organization, email string, role policy.Role) {
	pending, err := srv.store.GetPendingInvitationByEmail(r.Context(), org.ID, email)
	if err != nil {
		slog.ErrorContext(r.Context(), "invite: lookup pending", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if pending != nil {
		http.Error(w, "an invitation is already pending for this email", http.StatusConflict)
		return
	}

	rawToken, tokenHash, err := auth.GenerateInvitationToken()
	if err != nil {
		slog.ErrorContext(r.Context(), "invite: generate token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	inv, err := srv.store.CreateInvitation(r.Context(), org.ID, email, role.String(), tokenHash, actor.UserID, time.Now().Add(srv.invitationTTL()))
	if store.IsUniqueViolation(err) {
		http.Error(w, "an invitation is already pending for this email", http.StatusConflict)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "invite: create invitation", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	srv.audit(r.Context(), actor.UserID, org.ID, store.AuditCreate, "invitation", inv.ID.String(),
		map[string]any{"email": email, "role": inv.Role})
	srv.sendEmail(r.Context(), notify.EmailJob{
		Kind:      notify.KindInvitation,
		To:        email,
		OrgName:   org.Name,
		Role:      inv.Role,
		Link:      srv.acceptURL(rawToken),
		ExpiresAt: inv.ExpiresAt,
	})

	writeJSON(w, http.StatusCreated, addMemberResponse{
		Status:       "invited",
		InvitationID: inv.ID.String(),
		ExpiresAt:    inv.ExpiresAt.Format(time.RFC3339),
	})
}

// memberTarget parses {user_id}, rejects self-targeting unless selfAllowed,
// loads the membership and applies the ceiling to its current role. Returns
// nil after writing an error response.
func (srv *Server) memberTarget(w http.ResponseWriter, r *http.Request, actor policy.ActorContext, orgID uuid.UUID, selfAllowed bool, selfMsg string) *store.Membership {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return nil
	}
	if userID == actor.UserID && !selfAllowed {
		authzDenials.WithLabelValues(checkSelf).Inc()
		http.Error(w, selfMsg, http.StatusForbidden)
		return nil
	}
	m, err := srv.store.GetMembership(r.Context(), orgID, userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "get membership", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	if m == nil {
		http.Error(w, "member not found", http.StatusNotFound)
		return nil
	}
	// Peers above the caller's own level are out of reach.
	if !policy.CanAssign(roleFromContext(r.Context()), policy.ParseRole(m.Role), actor.IsSuperAdmin) {
		deny(w, r, checkAssignRole)
		return nil
	}
	return m
}

// updateMemberRoleHandler handles PATCH /api/v1/orgs/{org_id}/members/{user_id}.
func (srv *Server) updateMemberRoleHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)

	var req updateMemberRoleBody
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target, ok := parseTargetRole(req.Role)
	if !ok {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	// Super admins may change their own role.
	m := srv.memberTarget(w, r, actor, orgID, actor.IsSuperAdmin, "cannot change your own role")
	if m == nil {
		return
	}
	if !policy.CanAssign(roleFromContext(r.Context()), target, actor.IsSuperAdmin) {
		deny(w, r, checkAssignRole)
		return
	}

	previous, err := srv.store.UpdateMembershipRole(r.Context(), orgID, m.UserID, target.String())
	if errors.Is(err, store.ErrLastSecretario) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "update member role", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if previous == "" {
		http.Error(w, "member not found", http.StatusNotFound)
		return
	}

	srv.resolver.InvalidateUser(m.UserID)
	srv.audit(r.Context(), actor.UserID, orgID, store.AuditUpdate, "membership", m.UserID.String(),
		map[string]any{"from": previous, "to": target.String()})

	writeJSON(w, http.StatusOK, map[string]string{"user_id": m.UserID.String(), "role": target.String()})
}

// removeMemberHandler handles DELETE /api/v1/orgs/{org_id}/members/{user_id}.
func (srv *Server) removeMemberHandler(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	orgID, _ := r.Context().Value(ctxOrgID).(uuid.UUID)

	m := srv.memberTarget(w, r, actor, orgID, false, "cannot remove yourself")
	if m == nil {
		return
	}

	removed, err := srv.store.RemoveMembership(r.Context(), orgID, m.UserID)
	if errors.Is(err, store.ErrLastSecretario) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "remove member", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if removed == "" {
		http.Error(w, "member not found", http.StatusNotFound)
		return
	}

	srv.resolver.InvalidateUser(m.UserID)
	srv.audit(r.Context(), actor.UserID, orgID, store.AuditDelete, "membership", m.UserID.String(),
		map[string]any{"role": removed})

	w.WriteHeader(http.StatusNoContent)
}
