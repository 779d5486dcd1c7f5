// ABOUTME: Role-based authorization middleware built on the policy package.
// ABOUTME: Active-view checks use policy.Resolve; org-scoped routes use the role held in {org_id}.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/policy"
)

// deny counts the denial and writes 403.
func deny(w http.ResponseWriter, r *http.Request, check string) {
	authzDenials.WithLabelValues(check).Inc()
	slog.DebugContext(r.Context(), "authorization denied", "check", check, "path", r.URL.Path)
	http.Error(w, "forbidden", http.StatusForbidden)
}

// RequireActiveRole returns a middleware that checks the effective role of the
// session's current view. In the aggregate view every non-super-admin is a
// viewer, so anything above viewer requires selecting an organization first.
// On success it injects ctxRole, and ctxOrgID when an organization is active.
//
// Must run after RequireAuthenticated.
func (srv *Server) RequireActiveRole(minRole policy.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			eff := policy.Resolve(actor)
			if !eff.AtLeast(minRole) {
				deny(w, r, checkActiveRole)
				return
			}
			ctx := context.WithValue(r.Context(), ctxRole, eff.Role)
			if actor.ActiveOrganizationID != nil {
				ctx = context.WithValue(ctx, ctxOrgID, *actor.ActiveOrganizationID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireActiveOrg rejects requests made from the aggregate view. It runs
// after RequireActiveRole, which injects ctxOrgID for the active selection.
func requireActiveOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(ctxOrgID).(uuid.UUID); !ok {
			http.Error(w, "no active organization", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOrgRole returns a middleware that verifies the actor holds at least
// minRole in the organization named by {org_id}, independent of the session's
// active selection. Super admins pass as secretario. On success it injects
// ctxOrgID and ctxRole.
//
// Must run after RequireAuthenticated.
func (srv *Server) RequireOrgRole(minRole policy.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			orgID, err := uuid.Parse(chi.URLParam(r, "org_id"))
			if err != nil {
				http.Error(w, "invalid org_id", http.StatusBadRequest)
				return
			}
			role := actor.RoleIn(orgID)
			if !role.AtLeast(minRole) {
				deny(w, r, checkOrgRole)
				return
			}
			ctx := context.WithValue(r.Context(), ctxOrgID, orgID)
			ctx = context.WithValue(ctx, ctxRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperAdmin returns a middleware that admits only super admins.
//
// Must run after RequireAuthenticated.
func (srv *Server) RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !actor.IsSuperAdmin {
				deny(w, r, checkSuperAdmin)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
