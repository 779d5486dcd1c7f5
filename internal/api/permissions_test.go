// ABOUTME: Tests for GET /api/v1/permissions: capability flags derived from the effective role.
// ABOUTME: Runs the full router with an in-memory snapshot loader; no database.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsFor(t *testing.T) {
	t.Parallel()
	orgID := uuid.New()
	roles := map[uuid.UUID]string{orgID: "gestor"}

	cases := []struct {
		name string
		want permissionsResponse
		got  permissionsResponse
	}{
		{
			name: "aggregate view",
			got:  permissionsFor(actorWith(nil, false, roles)),
			want: permissionsResponse{Role: "viewer", Aggregate: true, HasAccess: true},
		},
		{
			name: "active gestor",
			got:  permissionsFor(actorWith(&orgID, false, roles)),
			want: permissionsResponse{Role: "gestor", HasAccess: true, CanEdit: true, CanManageMembers: true},
		},
		{
			name: "active non-member",
			got:  permissionsFor(actorWith(ptr(uuid.New()), false, roles)),
			want: permissionsResponse{Role: "none"},
		},
		{
			name: "super admin",
			got:  permissionsFor(actorWith(nil, true, nil)),
			want: permissionsResponse{Role: "secretario", IsSuperAdmin: true, Aggregate: true, HasAccess: true, CanEdit: true, CanManageMembers: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.got.ActiveOrganizationID = nil
			assert.Equal(t, tc.want, tc.got)
		})
	}
}

func TestPermissionsHandler(t *testing.T) {
	t.Parallel()
	loader := &fakeLoader{}
	orgID := uuid.New()
	tok := loader.add(t, uuid.New(), false, &orgID, map[uuid.UUID]string{orgID: "secretario"})
	srv := newUnitServer(t, loader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got permissionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "secretario", got.Role)
	assert.True(t, got.CanManageMembers)
	require.NotNil(t, got.ActiveOrganizationID)
	assert.Equal(t, orgID.String(), *got.ActiveOrganizationID)

	// Unauthenticated.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
