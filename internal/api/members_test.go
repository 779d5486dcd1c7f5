// ABOUTME: Integration tests for member management: add, invite, role changes, removal, resend, cancel.
// ABOUTME: Uses real Postgres via testutil.NewTestDB and the full srv.Handler() stack.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestaopublica/gestor/internal/notify"
	"github.com/gestaopublica/gestor/internal/store"
)

// memberFixture is one org with a secretario, a gestor and a viewer.
type memberFixture struct {
	env                        *apiEnv
	org                        *store.Organization
	sec, gestor, viewer        *store.User
	secTok, gestorTok, viewTok string
}

func newMemberFixture(t *testing.T) *memberFixture {
	t.Helper()
	env := newAPIEnv(t)
	f := &memberFixture{env: env}
	f.org = env.db.MustOrg(t, "Prefeitura")
	f.sec = env.db.MustUser(t, "sec@example.com", "Sec", "")
	f.gestor = env.db.MustUser(t, "gestor@example.com", "Gestor", "")
	f.viewer = env.db.MustUser(t, "viewer@example.com", "Viewer", "")
	env.db.MustMember(t, f.org.ID, f.sec.ID, "secretario")
	env.db.MustMember(t, f.org.ID, f.gestor.ID, "gestor")
	env.db.MustMember(t, f.org.ID, f.viewer.ID, "viewer")
	f.secTok = env.login(t, f.sec.ID)
	f.gestorTok = env.login(t, f.gestor.ID)
	f.viewTok = env.login(t, f.viewer.ID)
	return f
}

func (f *memberFixture) membersPath() string { return "/api/v1/orgs/" + f.org.ID.String() + "/members" }

func (f *memberFixture) memberPath(userID uuid.UUID) string {
	return f.membersPath() + "/" + userID.String()
}

func (f *memberFixture) invitationPath(id string) string {
	return "/api/v1/orgs/" + f.org.ID.String() + "/invitations/" + id
}

func TestAddMember_ExistingUser(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)
	newbie := f.env.db.MustUser(t, "newbie@example.com", "Newbie", "")

	// A gestor cannot hand out secretario.
	f.env.expect(t, http.MethodPost, f.membersPath(), f.gestorTok,
		map[string]string{"email": "newbie@example.com", "role": "secretario"}, http.StatusForbidden, nil)
	// A viewer cannot add anyone.
	f.env.expect(t, http.MethodPost, f.membersPath(), f.viewTok,
		map[string]string{"email": "newbie@example.com", "role": "viewer"}, http.StatusForbidden, nil)
	f.env.expect(t, http.MethodPost, f.membersPath(), f.gestorTok,
		map[string]string{"email": "newbie@example.com", "role": "owner"}, http.StatusBadRequest, nil)

	var added addMemberResponse
	f.env.expect(t, http.MethodPost, f.membersPath(), f.gestorTok,
		map[string]string{"email": "Newbie@Example.com", "role": "gestor"}, http.StatusCreated, &added)
	assert.Equal(t, "added", added.Status)
	assert.Equal(t, newbie.ID.String(), added.UserID)

	f.env.expect(t, http.MethodPost, f.membersPath(), f.gestorTok,
		map[string]string{"email": "newbie@example.com", "role": "viewer"}, http.StatusConflict, nil)

	job, err := f.env.db.ClaimJob(context.Background(), notify.QueueEmail, "test")
	require.NoError(t, err)
	require.NotNil(t, job, "adding a member queues an email")
	var ej notify.EmailJob
	require.NoError(t, json.Unmarshal(job.Payload, &ej))
	assert.Equal(t, notify.KindMemberAdded, ej.Kind)
	assert.Equal(t, "newbie@example.com", ej.To)
	assert.Equal(t, "http://gestor.test/login", ej.Link)
}

func TestAddMember_InviteAndList(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)

	var invited addMemberResponse
	f.env.expect(t, http.MethodPost, f.membersPath(), f.gestorTok,
		map[string]string{"email": "fora@example.com", "role": "viewer"}, http.StatusCreated, &invited)
	assert.Equal(t, "invited", invited.Status)
	assert.NotEmpty(t, invited.InvitationID)

	f.env.expect(t, http.MethodPost, f.membersPath(), f.secTok,
		map[string]string{"email": "fora@example.com", "role": "gestor"}, http.StatusConflict, nil)

	var list listMembersResponse
	f.env.expect(t, http.MethodGet, f.membersPath(), f.gestorTok, nil, http.StatusOK, &list)
	assert.Len(t, list.Members, 3)
	require.Len(t, list.Invitations, 1)
	assert.Equal(t, "fora@example.com", list.Invitations[0].Email)
	assert.True(t, list.Meta.CanManage)
	assert.Equal(t, "gestor", list.Meta.UserRole)

	var viewerList listMembersResponse
	f.env.expect(t, http.MethodGet, f.membersPath(), f.viewTok, nil, http.StatusOK, &viewerList)
	assert.False(t, viewerList.Meta.CanManage)
	assert.Equal(t, "viewer", viewerList.Meta.UserRole)
	assert.Empty(t, viewerList.Invitations, "viewers do not see pending invitations")

	var searched listMembersResponse
	f.env.expect(t, http.MethodGet, f.membersPath()+"?search=gest", f.viewTok, nil, http.StatusOK, &searched)
	require.Len(t, searched.Members, 1)
	assert.Equal(t, f.gestor.ID.String(), searched.Members[0].UserID)
}

func TestUpdateMemberRole(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)

	f.env.expect(t, http.MethodPatch, f.memberPath(f.gestor.ID), f.gestorTok,
		map[string]string{"role": "viewer"}, http.StatusForbidden, nil) // self
	f.env.expect(t, http.MethodPatch, f.memberPath(f.viewer.ID), f.gestorTok,
		map[string]string{"role": "secretario"}, http.StatusForbidden, nil) // above ceiling
	f.env.expect(t, http.MethodPatch, f.memberPath(f.sec.ID), f.gestorTok,
		map[string]string{"role": "viewer"}, http.StatusForbidden, nil) // target above ceiling
	f.env.expect(t, http.MethodPatch, f.memberPath(uuid.New()), f.gestorTok,
		map[string]string{"role": "viewer"}, http.StatusNotFound, nil)

	f.env.expect(t, http.MethodPatch, f.memberPath(f.viewer.ID), f.gestorTok,
		map[string]string{"role": "gestor"}, http.StatusOK, nil)
	// The promoted viewer's existing session picks up the new role.
	f.env.expect(t, http.MethodPost, f.invitationPath(uuid.NewString())+"/resend", f.viewTok, nil, http.StatusNotFound, nil)

	// The only secretario cannot be demoted, even by a super admin.
	super := f.env.db.MustSuperAdmin(t, "root@example.com")
	f.env.expect(t, http.MethodPatch, f.memberPath(f.sec.ID), f.env.login(t, super.ID),
		map[string]string{"role": "gestor"}, http.StatusConflict, nil)

	f.env.expect(t, http.MethodPatch, f.memberPath(f.gestor.ID), f.secTok,
		map[string]string{"role": "secretario"}, http.StatusOK, nil)
	f.env.expect(t, http.MethodPatch, f.memberPath(f.sec.ID), f.gestorTok,
		map[string]string{"role": "viewer"}, http.StatusOK, nil)

	m, err := f.env.db.GetMembership(context.Background(), f.org.ID, f.sec.ID)
	require.NoError(t, err)
	assert.Equal(t, "viewer", m.Role)
}

func TestRemoveMember(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)

	f.env.expect(t, http.MethodDelete, f.memberPath(f.gestor.ID), f.gestorTok, nil, http.StatusForbidden, nil) // self
	f.env.expect(t, http.MethodDelete, f.memberPath(f.sec.ID), f.gestorTok, nil, http.StatusForbidden, nil)    // ceiling
	f.env.expect(t, http.MethodDelete, f.memberPath(f.gestor.ID), f.viewTok, nil, http.StatusForbidden, nil)   // viewer
	f.env.expect(t, http.MethodDelete, f.memberPath(uuid.New()), f.gestorTok, nil, http.StatusNotFound, nil)

	super := f.env.db.MustSuperAdmin(t, "root@example.com")
	f.env.expect(t, http.MethodDelete, f.memberPath(f.sec.ID), f.env.login(t, super.ID), nil, http.StatusConflict, nil)

	f.env.expect(t, http.MethodDelete, f.memberPath(f.viewer.ID), f.gestorTok, nil, http.StatusNoContent, nil)
	// The removed viewer's session loses access at once.
	f.env.expect(t, http.MethodGet, "/api/v1/orgs/"+f.org.ID.String(), f.viewTok, nil, http.StatusForbidden, nil)
}

func TestResendAndCancelInvitation(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)

	var invited addMemberResponse
	f.env.expect(t, http.MethodPost, f.membersPath(), f.secTok,
		map[string]string{"email": "chefe@example.com", "role": "secretario"}, http.StatusCreated, &invited)
	firstToken := lastInvitationToken(t, f.env, "chefe@example.com")

	// A gestor cannot manage an invitation for a secretario.
	f.env.expect(t, http.MethodPost, f.invitationPath(invited.InvitationID)+"/resend", f.gestorTok, nil, http.StatusForbidden, nil)
	f.env.expect(t, http.MethodPost, f.invitationPath(invited.InvitationID)+"/resend", f.viewTok, nil, http.StatusForbidden, nil)

	var resent resendInvitationResponse
	f.env.expect(t, http.MethodPost, f.invitationPath(invited.InvitationID)+"/resend", f.secTok, nil, http.StatusOK, &resent)
	assert.Equal(t, invited.InvitationID, resent.ID)
	secondToken := lastInvitationToken(t, f.env, "chefe@example.com")
	assert.NotEqual(t, firstToken, secondToken)

	// The old link stops working once the token rotates.
	f.env.expect(t, http.MethodGet, "/api/v1/auth/invitations/"+firstToken, "", nil, http.StatusNotFound, nil)
	f.env.expect(t, http.MethodGet, "/api/v1/auth/invitations/"+secondToken, "", nil, http.StatusOK, nil)

	f.env.expect(t, http.MethodDelete, f.invitationPath(invited.InvitationID), f.secTok, nil, http.StatusNoContent, nil)
	f.env.expect(t, http.MethodDelete, f.invitationPath(invited.InvitationID), f.secTok, nil, http.StatusConflict, nil)
	f.env.expect(t, http.MethodDelete, f.invitationPath(uuid.NewString()), f.secTok, nil, http.StatusNotFound, nil)
	f.env.expect(t, http.MethodGet, "/api/v1/auth/invitations/"+secondToken, "", nil, http.StatusGone, nil)
}

func TestActiveOrgMembers(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)

	// Aggregate view: the gestor counts as a viewer and has no org to list.
	f.env.expect(t, http.MethodGet, "/api/v1/members", f.gestorTok, nil, http.StatusBadRequest, nil)
	f.env.expect(t, http.MethodPost, "/api/v1/members", f.gestorTok,
		map[string]string{"email": "novo@example.com", "role": "viewer"}, http.StatusForbidden, nil)

	f.env.expect(t, http.MethodPost, "/api/v1/org-session", f.gestorTok,
		map[string]any{"organization_id": f.org.ID}, http.StatusOK, nil)

	var list listMembersResponse
	f.env.expect(t, http.MethodGet, "/api/v1/members", f.gestorTok, nil, http.StatusOK, &list)
	assert.Len(t, list.Members, 3)
	assert.Equal(t, "gestor", list.Meta.UserRole)
	assert.True(t, list.Meta.CanManage)

	var invited addMemberResponse
	f.env.expect(t, http.MethodPost, "/api/v1/members", f.gestorTok,
		map[string]string{"email": "novo@example.com", "role": "viewer"}, http.StatusCreated, &invited)
	assert.Equal(t, "invited", invited.Status)

	// A viewer with an active org may list but not add.
	f.env.expect(t, http.MethodPost, "/api/v1/org-session", f.viewTok,
		map[string]any{"organization_id": f.org.ID}, http.StatusOK, nil)
	f.env.expect(t, http.MethodGet, "/api/v1/members", f.viewTok, nil, http.StatusOK, nil)
	f.env.expect(t, http.MethodPost, "/api/v1/members", f.viewTok,
		map[string]string{"email": "outro@example.com", "role": "viewer"}, http.StatusForbidden, nil)
}

func TestUpdateMemberRole_RepairsCorruptStoredRole(t *testing.T) {
	t.Parallel()
	f := newMemberFixture(t)
	ctx := context.Background()

	// Simulate a row written before the CHECK constraint existed.
	_, err := f.env.db.Pool().Exec(ctx, `ALTER TABLE memberships DROP CONSTRAINT memberships_role_check`)
	require.NoError(t, err)
	_, err = f.env.db.Pool().Exec(ctx,
		`UPDATE memberships SET role = 'owner' WHERE organization_id = $1 AND user_id = $2`, f.org.ID, f.viewer.ID)
	require.NoError(t, err)
	f.env.srv.resolver.InvalidateUser(f.viewer.ID)

	// The corrupt role ranks below viewer, so the member has no access.
	f.env.expect(t, http.MethodGet, "/api/v1/orgs/"+f.org.ID.String(), f.viewTok, nil, http.StatusForbidden, nil)

	// A viewer still cannot touch it; a gestor can repair it.
	f.env.expect(t, http.MethodPatch, f.memberPath(f.viewer.ID), f.viewTok,
		map[string]string{"role": "viewer"}, http.StatusForbidden, nil)
	f.env.expect(t, http.MethodPatch, f.memberPath(f.viewer.ID), f.gestorTok,
		map[string]string{"role": "viewer"}, http.StatusOK, nil)

	m, err := f.env.db.GetMembership(ctx, f.org.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, "viewer", m.Role)
	f.env.expect(t, http.MethodGet, "/api/v1/orgs/"+f.org.ID.String(), f.viewTok, nil, http.StatusOK, nil)
}
