// ABOUTME: Shared test helpers: an in-memory snapshot loader for DB-free middleware tests
// ABOUTME: and a Postgres-backed apiEnv that drives the full handler over httptest.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/access"
	"github.com/gestaopublica/gestor/internal/auth"
	"github.com/gestaopublica/gestor/internal/cache"
	"github.com/gestaopublica/gestor/internal/config"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
	"github.com/gestaopublica/gestor/internal/testutil"
)

const testSecret = "api-test-secret"

// fakeLoader serves ActorSnapshots from memory.
type fakeLoader struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]*store.ActorSnapshot
	err   error
}

func (f *fakeLoader) LoadActorSnapshot(_ context.Context, id uuid.UUID) (*store.ActorSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps[id], nil
}

// add registers a session for a user with the given memberships (org -> role)
// and returns a signed token for it.
func (f *fakeLoader) add(t *testing.T, userID uuid.UUID, super bool, active *uuid.UUID, roles map[uuid.UUID]string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snaps == nil {
		f.snaps = make(map[uuid.UUID]*store.ActorSnapshot)
	}
	globalRole := store.GlobalRoleUser
	if super {
		globalRole = store.GlobalRoleSuperAdmin
	}
	snap := &store.ActorSnapshot{
		Session: store.Session{ID: uuid.New(), UserID: userID, ActiveOrganizationID: active},
		User:    store.User{ID: userID, GlobalRole: globalRole, IsActive: true},
	}
	for orgID, role := range roles {
		snap.Memberships = append(snap.Memberships, store.Membership{UserID: userID, OrganizationID: orgID, Role: role})
	}
	f.snaps[snap.Session.ID] = snap
	tok, err := auth.IssueSessionToken([]byte(testSecret), userID, snap.Session.ID, time.Hour)
	if err != nil {
		t.Fatalf("issue session token: %v", err)
	}
	return tok
}

// newUnitServer builds a Server with no store, resolving actors from loader.
func newUnitServer(t *testing.T, loader access.SnapshotLoader) *Server {
	t.Helper()
	cfg := &config.Config{JWTSecret: testSecret} //nolint:exhaustruct // test: only JWT secret needed
	srv := newServer(cfg, access.NewResolver(loader, cache.NewTTL[uuid.UUID, policy.ActorContext](time.Minute, 100)))
	t.Cleanup(srv.Close)
	return srv
}

// okHandler records that it ran and writes 200.
func okHandler(ran *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*ran = true
		w.WriteHeader(http.StatusOK)
	})
}

// ── Postgres-backed environment ──────────────────────────────────────────────

type apiEnv struct {
	db  *testutil.TestDB
	srv *Server
	ts  *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := &config.Config{ //nolint:exhaustruct // test: defaults cover the rest
		JWTSecret:   testSecret,
		ExternalURL: "http://gestor.test",
	}
	srv, err := NewServer(db.Store, cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiEnv{db: db, srv: srv, ts: ts}
}

// login creates a fresh session for userID and returns its token.
func (e *apiEnv) login(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	sess := e.db.MustSession(t, userID)
	tok, err := auth.IssueSessionToken([]byte(testSecret), userID, sess.ID, time.Hour)
	if err != nil {
		t.Fatalf("issue session token: %v", err)
	}
	return tok
}

// do sends a request with Bearer auth (token may be empty) and a JSON body
// (body may be nil). The caller closes the response body.
func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req) //nolint:gosec // G704 false positive: ts.URL is httptest.Server
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// expect sends the request, asserts the status, and decodes the body into out
// when out is non-nil.
func (e *apiEnv) expect(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	resp := e.do(t, method, path, token, body)
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: got %d, want %d (body %q)", method, path, resp.StatusCode, wantStatus, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return h
}
