// ABOUTME: HTTP handlers for authentication: login, logout, me, and invitation lookup/acceptance.
// ABOUTME: All auth endpoints live at /api/v1/auth/...; login and accept are rate-limited.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/auth"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
)

// Fallbacks used when the config leaves a TTL unset.
const (
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultInvitationTTL = 7 * 24 * time.Hour
	minPasswordLength    = 8
)

func (srv *Server) sessionTTL() time.Duration {
	if srv.cfg.SessionTTL > 0 {
		return srv.cfg.SessionTTL
	}
	return defaultSessionTTL
}

func (srv *Server) invitationTTL() time.Duration {
	if srv.cfg.InvitationTTL > 0 {
		return srv.cfg.InvitationTTL
	}
	return defaultInvitationTTL
}

// sessionCookie returns the Set-Cookie value carrying token.
func sessionCookie(token string, ttl time.Duration, secure bool) string {
	c := &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}
	return c.String()
}

// clearSessionCookie returns a Set-Cookie value that immediately expires the session cookie.
func clearSessionCookie(secure bool) string {
	c := &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
	return c.String()
}

// startSession creates a session for userID, optionally pointed at activeOrg,
// and returns the signed token.
func (srv *Server) startSession(ctx context.Context, userID uuid.UUID, activeOrg *uuid.UUID) (string, time.Time, error) {
	expiresAt := time.Now().Add(srv.sessionTTL())
	sess, err := srv.store.CreateSession(ctx, userID, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	if activeOrg != nil {
		if err := srv.store.SetActiveOrganization(ctx, sess.ID, activeOrg); err != nil {
			return "", time.Time{}, err
		}
	}
	token, err := auth.IssueSessionToken([]byte(srv.cfg.JWTSecret), userID, sess.ID, srv.sessionTTL())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// sessionBody is returned by operations that start a session.
type sessionBody struct {
	Token     string    `json:"token"      doc:"Session token, also set as the session_token cookie"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// ── Login ─────────────────────────────────────────────────────────────────────

// loginInput is the request body for POST /auth/login.
type loginInput struct {
	Body struct {
		Email    string `json:"email"    format:"email" maxLength:"254"  doc:"User email"`
		Password string `json:"password" minLength:"1"  maxLength:"1024" doc:"Password"`
	}
}

// loginOutput sets the session cookie and returns the token for Bearer clients.
type loginOutput struct {
	SetCookie []string `header:"Set-Cookie"`
	Body      sessionBody
}

// loginHandler handles POST /api/v1/auth/login.
// Unknown, inactive and password-less users still run argon2 to normalize
// response timing (prevents email enumeration).
func (srv *Server) loginHandler(ctx context.Context, input *loginInput) (*loginOutput, error) {
	user, err := srv.store.GetUserByEmail(ctx, input.Body.Email)
	if err != nil {
		slog.ErrorContext(ctx, "login: lookup email", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	if !srv.acquireArgon2() {
		return nil, huma.Error503ServiceUnavailable("server busy, please retry")
	}
	if user == nil || user.PasswordHash == nil || !user.IsActive {
		_, _ = auth.VerifyPassword(input.Body.Password, auth.DummyHash)
		srv.releaseArgon2()
		return nil, huma.Error401Unauthorized("invalid credentials")
	}
	ok, err := auth.VerifyPassword(input.Body.Password, *user.PasswordHash)
	srv.releaseArgon2()
	if err != nil {
		slog.ErrorContext(ctx, "login: verify password", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error401Unauthorized("invalid credentials")
	}

	if auth.NeedsRehash(*user.PasswordHash) {
		srv.rehashPassword(ctx, user.ID, input.Body.Password)
	}

	token, expiresAt, err := srv.startSession(ctx, user.ID, nil)
	if err != nil {
		slog.ErrorContext(ctx, "login: start session", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	// Non-fatal; last_login_at is informational only.
	if err := srv.store.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "login: update last login", "error", err)
	}

	out := &loginOutput{SetCookie: []string{sessionCookie(token, srv.sessionTTL(), srv.cfg.CookieSecure)}}
	out.Body = sessionBody{Token: token, ExpiresAt: expiresAt, UserID: user.ID.String()}
	return out, nil
}

// rehashPassword upgrades a stored hash to the current argon2 parameters.
// Best effort: the login already succeeded.
func (srv *Server) rehashPassword(ctx context.Context, userID uuid.UUID, password string) {
	if !srv.acquireArgon2() {
		return
	}
	hash, err := auth.HashPassword(password)
	srv.releaseArgon2()
	if err != nil {
		slog.WarnContext(ctx, "login: rehash password", "error", err)
		return
	}
	if err := srv.store.SetPasswordHash(ctx, userID, hash); err != nil {
		slog.WarnContext(ctx, "login: store rehashed password", "error", err)
	}
}

// ── Logout ────────────────────────────────────────────────────────────────────

type logoutInput struct {
	SessionToken  string `cookie:"session_token" doc:"Session token cookie"`
	Authorization string `header:"Authorization" doc:"Bearer session token"`
}

// logoutOutput clears the session cookie.
type logoutOutput struct {
	SetCookie []string `header:"Set-Cookie"`
}

// logoutHandler handles POST /api/v1/auth/logout. Deletes the session when the
// token is valid and always clears the cookie.
func (srv *Server) logoutHandler(ctx context.Context, input *logoutInput) (*logoutOutput, error) {
	_, sessionID, ok, err := srv.authenticate(ctx, bearerOrCookie(input.Authorization, input.SessionToken))
	if err != nil {
		slog.WarnContext(ctx, "logout: authenticate", "error", err)
	}
	if ok {
		if err := srv.store.DeleteSession(ctx, sessionID); err != nil {
			// Non-fatal; the cookie is cleared regardless.
			slog.WarnContext(ctx, "logout: delete session", "error", err)
		}
		srv.resolver.Invalidate(sessionID)
	}
	return &logoutOutput{SetCookie: []string{clearSessionCookie(srv.cfg.CookieSecure)}}, nil
}

// ── Me ────────────────────────────────────────────────────────────────────────

type meInput struct {
	SessionToken  string `cookie:"session_token" doc:"Session token cookie"`
	Authorization string `header:"Authorization" doc:"Bearer session token"`
}

// orgEntry is an org membership summary in the /auth/me response.
type orgEntry struct {
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Role  string `json:"role"`
}

// meOutput is the response body for GET /auth/me.
type meOutput struct {
	Body struct {
		UserID               string     `json:"user_id"`
		Email                string     `json:"email"`
		Name                 string     `json:"name"`
		IsSuperAdmin         bool       `json:"is_super_admin"`
		ActiveOrganizationID *string    `json:"active_organization_id"`
		Orgs                 []orgEntry `json:"orgs"`
	}
}

// meHandler handles GET /api/v1/auth/me.
func (srv *Server) meHandler(ctx context.Context, input *meInput) (*meOutput, error) {
	actor, _, ok, err := srv.authenticate(ctx, bearerOrCookie(input.Authorization, input.SessionToken))
	if err != nil {
		slog.ErrorContext(ctx, "me: authenticate", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error401Unauthorized("authentication required")
	}

	user, err := srv.store.GetUserByID(ctx, actor.UserID)
	if err != nil || user == nil {
		slog.ErrorContext(ctx, "me: get user", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	orgRows, err := srv.store.ListUserOrgs(ctx, user.ID)
	if err != nil {
		slog.ErrorContext(ctx, "me: list orgs", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &meOutput{}
	out.Body.UserID = user.ID.String()
	out.Body.Email = user.Email
	out.Body.Name = user.Name
	out.Body.IsSuperAdmin = actor.IsSuperAdmin
	if actor.ActiveOrganizationID != nil {
		id := actor.ActiveOrganizationID.String()
		out.Body.ActiveOrganizationID = &id
	}
	out.Body.Orgs = make([]orgEntry, 0, len(orgRows))
	for _, row := range orgRows {
		out.Body.Orgs = append(out.Body.Orgs, orgEntry{
			OrgID: row.OrganizationID.String(),
			Name:  row.Name,
			Code:  row.Code,
			Role:  row.Role,
		})
	}
	return out, nil
}

// ── Invitations (public + authenticated) ──────────────────────────────────────

// lookupInvitation resolves a raw token to a usable invitation. Returns a huma
// error for unknown (404) and spent or expired (410) invitations.
func (srv *Server) lookupInvitation(ctx context.Context, rawToken string) (*store.Invitation, error) {
	if !auth.LooksLikeInvitationToken(rawToken) {
		return nil, huma.Error404NotFound("invitation not found")
	}
	inv, err := srv.store.GetInvitationByTokenHash(ctx, auth.HashInvitationToken(rawToken))
	if err != nil {
		slog.ErrorContext(ctx, "lookup invitation", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if inv == nil {
		return nil, huma.Error404NotFound("invitation not found")
	}
	if !inv.Usable(time.Now()) {
		return nil, huma.NewError(http.StatusGone, "invitation has expired or is no longer valid")
	}
	return inv, nil
}

type getInvitationInput struct {
	Token string `path:"token" doc:"Invitation token"`
}

// getInvitationOutput is the response for GET /auth/invitations/{token}.
// Does NOT expose the organization ID or the invited email.
type getInvitationOutput struct {
	Body struct {
		OrgName   string    `json:"org_name"`
		Role      string    `json:"role"`
		ExpiresAt time.Time `json:"expires_at"`
	}
}

// getInvitationHandler handles GET /api/v1/auth/invitations/{token}.
// Public endpoint, no authentication required.
func (srv *Server) getInvitationHandler(ctx context.Context, input *getInvitationInput) (*getInvitationOutput, error) {
	inv, err := srv.lookupInvitation(ctx, input.Token)
	if err != nil {
		return nil, err
	}
	org, err := srv.store.GetOrgByID(ctx, inv.OrganizationID)
	if err != nil || org == nil {
		slog.ErrorContext(ctx, "get invitation org", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &getInvitationOutput{}
	out.Body.OrgName = org.Name
	out.Body.Role = inv.Role
	out.Body.ExpiresAt = inv.ExpiresAt
	return out, nil
}

// acceptInvitationInput accepts either an authenticated session whose email
// matches the invitation, or name and password to create the account.
type acceptInvitationInput struct {
	SessionToken  string `cookie:"session_token" doc:"Session token cookie"`
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	Token string `path:"token" doc:"Invitation token"`
	Body  *struct {
		Name     string `json:"name,omitempty"     maxLength:"200"  doc:"Display name for a new account"`
		Password string `json:"password,omitempty" maxLength:"1024" doc:"Password for a new account (min 8 characters)"`
	} `required:"false"`
}

// acceptInvitationOutput sets a session cookie when a new account was created.
type acceptInvitationOutput struct {
	SetCookie []string `header:"Set-Cookie"`
	Body      struct {
		OrganizationID string       `json:"organization_id"`
		Role           string       `json:"role"`
		Created        bool         `json:"created" doc:"True when a new account was created"`
		Session        *sessionBody `json:"session,omitempty"`
	}
}

// acceptInvitationHandler handles POST /api/v1/auth/invitations/{token}/accept.
func (srv *Server) acceptInvitationHandler(ctx context.Context, input *acceptInvitationInput) (*acceptInvitationOutput, error) {
	inv, err := srv.lookupInvitation(ctx, input.Token)
	if err != nil {
		return nil, err
	}

	actor, _, authed, err := srv.authenticate(ctx, bearerOrCookie(input.Authorization, input.SessionToken))
	if err != nil {
		slog.ErrorContext(ctx, "accept invitation: authenticate", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if authed {
		return srv.acceptAsUser(ctx, inv, actor)
	}

	if input.Body == nil || strings.TrimSpace(input.Body.Name) == "" {
		return nil, huma.Error401Unauthorized("log in or provide name and password to accept")
	}
	if len(input.Body.Password) < minPasswordLength {
		return nil, huma.Error422UnprocessableEntity("password must be at least 8 characters")
	}
	return srv.acceptWithSignup(ctx, inv, strings.TrimSpace(input.Body.Name), input.Body.Password)
}

func (srv *Server) acceptAsUser(ctx context.Context, inv *store.Invitation, actor policy.ActorContext) (*acceptInvitationOutput, error) {
	user, err := srv.store.GetUserByID(ctx, actor.UserID)
	if err != nil || user == nil {
		slog.ErrorContext(ctx, "accept invitation: get user", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return nil, huma.Error403Forbidden("invitation was sent to a different email address")
	}
	if err := srv.store.AcceptInvitation(ctx, inv.ID, user.ID); err != nil {
		if errors.Is(err, store.ErrInvitationUnusable) {
			return nil, huma.NewError(http.StatusGone, "invitation has expired or is no longer valid")
		}
		slog.ErrorContext(ctx, "accept invitation", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	srv.resolver.InvalidateUser(user.ID)
	srv.audit(ctx, user.ID, inv.OrganizationID, store.AuditCreate, "membership", user.ID.String(),
		map[string]any{"role": inv.Role, "invitation_id": inv.ID.String()})

	out := &acceptInvitationOutput{}
	out.Body.OrganizationID = inv.OrganizationID.String()
	out.Body.Role = inv.Role
	return out, nil
}

func (srv *Server) acceptWithSignup(ctx context.Context, inv *store.Invitation, name, password string) (*acceptInvitationOutput, error) {
	existing, err := srv.store.GetUserByEmail(ctx, inv.Email)
	if err != nil {
		slog.ErrorContext(ctx, "accept invitation: lookup email", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if existing != nil {
		return nil, huma.Error409Conflict("an account already exists for this email; log in to accept")
	}

	if !srv.acquireArgon2() {
		return nil, huma.Error503ServiceUnavailable("server busy, please retry")
	}
	hash, err := auth.HashPassword(password)
	srv.releaseArgon2()
	if err != nil {
		slog.ErrorContext(ctx, "accept invitation: hash password", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	user, err := srv.store.AcceptInvitationWithSignup(ctx, inv.ID, name, hash)
	switch {
	case errors.Is(err, store.ErrInvitationUnusable):
		return nil, huma.NewError(http.StatusGone, "invitation has expired or is no longer valid")
	case store.IsUniqueViolation(err):
		return nil, huma.Error409Conflict("an account already exists for this email; log in to accept")
	case err != nil:
		slog.ErrorContext(ctx, "accept invitation: signup", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	srv.audit(ctx, user.ID, inv.OrganizationID, store.AuditCreate, "membership", user.ID.String(),
		map[string]any{"role": inv.Role, "invitation_id": inv.ID.String(), "signup": true})

	orgID := inv.OrganizationID
	token, expiresAt, err := srv.startSession(ctx, user.ID, &orgID)
	if err != nil {
		slog.ErrorContext(ctx, "accept invitation: start session", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &acceptInvitationOutput{SetCookie: []string{sessionCookie(token, srv.sessionTTL(), srv.cfg.CookieSecure)}}
	out.Body.OrganizationID = inv.OrganizationID.String()
	out.Body.Role = inv.Role
	out.Body.Created = true
	out.Body.Session = &sessionBody{Token: token, ExpiresAt: expiresAt, UserID: user.ID.String()}
	return out, nil
}

// ── Route registration ────────────────────────────────────────────────────────

// registerAuthRoutes registers all auth-related routes on the huma API.
func registerAuthRoutes(api huma.API, srv *Server) {
	limited := huma.Middlewares{srv.loginRateLimit(api)}

	huma.Register(api, huma.Operation{
		OperationID:   "login",
		Method:        http.MethodPost,
		Path:          "/auth/login",
		Tags:          []string{"auth"},
		Summary:       "Log in and start a session",
		DefaultStatus: http.StatusOK,
		Middlewares:   limited,
	}, srv.loginHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Tags:          []string{"auth"},
		Summary:       "End the session and clear the session cookie",
		DefaultStatus: http.StatusNoContent,
	}, srv.logoutHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/auth/me",
		Tags:        []string{"auth"},
		Summary:     "Get the current user's profile and org memberships",
	}, srv.meHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-invitation",
		Method:      http.MethodGet,
		Path:        "/auth/invitations/{token}",
		Tags:        []string{"auth"},
		Summary:     "Get invitation details (public)",
	}, srv.getInvitationHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "accept-invitation",
		Method:        http.MethodPost,
		Path:          "/auth/invitations/{token}/accept",
		Tags:          []string{"auth"},
		Summary:       "Accept an invitation, creating the account if needed",
		DefaultStatus: http.StatusOK,
		Middlewares:   limited,
	}, srv.acceptInvitationHandler)
}
