// ABOUTME: GET /api/v1/permissions reports the caller's effective role for the current view.
// ABOUTME: Capability flags are derived from policy.Resolve so clients never re-implement the rules.
package api

import (
	"net/http"

	"github.com/gestaopublica/gestor/internal/policy"
)

// permissionsResponse is the JSON body for GET /api/v1/permissions.
type permissionsResponse struct {
	Role                 string  `json:"role"`
	IsSuperAdmin         bool    `json:"is_super_admin"`
	Aggregate            bool    `json:"aggregate"`
	ActiveOrganizationID *string `json:"active_organization_id"`
	HasAccess            bool    `json:"has_access"`
	CanEdit              bool    `json:"can_edit"`
	CanManageMembers     bool    `json:"can_manage_members"`
}

func permissionsFor(actor policy.ActorContext) permissionsResponse {
	eff := policy.Resolve(actor)
	resp := permissionsResponse{
		Role:             eff.Role.String(),
		IsSuperAdmin:     eff.SuperAdmin,
		Aggregate:        eff.Aggregate,
		HasAccess:        eff.HasAccess(),
		CanEdit:          eff.AtLeast(policy.RoleGestor),
		CanManageMembers: eff.AtLeast(policy.RoleGestor),
	}
	if actor.ActiveOrganizationID != nil {
		id := actor.ActiveOrganizationID.String()
		resp.ActiveOrganizationID = &id
	}
	return resp
}

// permissionsHandler handles GET /api/v1/permissions.
func (srv *Server) permissionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, permissionsFor(actor))
}
