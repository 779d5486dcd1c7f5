// ABOUTME: RequireAuthenticated middleware: session JWT from cookie or Bearer header.
// ABOUTME: Resolves the session to a policy.ActorContext and injects it into the request context.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/auth"
	"github.com/gestaopublica/gestor/internal/policy"
)

// sessionCookieName holds the session JWT for browser clients.
const sessionCookieName = "session_token"

// bearerOrCookie picks the session token: an Authorization Bearer value wins
// over the cookie.
func bearerOrCookie(authorization, cookie string) string {
	if tok, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return cookie
}

// authenticate validates token and resolves its session. ok is false for any
// invalid, expired or revoked token; err is reserved for backend failures.
func (srv *Server) authenticate(ctx context.Context, token string) (actor policy.ActorContext, sessionID uuid.UUID, ok bool, err error) {
	if token == "" {
		return policy.ActorContext{}, uuid.Nil, false, nil
	}
	claims, err := auth.ParseSessionToken(token, []byte(srv.cfg.JWTSecret))
	if err != nil {
		return policy.ActorContext{}, uuid.Nil, false, nil
	}
	actor, ok, err = srv.resolver.Resolve(ctx, claims.SessionID)
	if err != nil || !ok {
		return policy.ActorContext{}, uuid.Nil, false, err
	}
	// A session token is only valid for the user it was issued to.
	if actor.UserID != claims.UserID {
		return policy.ActorContext{}, uuid.Nil, false, nil
	}
	return actor, claims.SessionID, true, nil
}

// RequireAuthenticated returns a middleware that requires a valid session
// token. On success it injects ctxActor and ctxSessionID.
func (srv *Server) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var cookie string
			if c, err := r.Cookie(sessionCookieName); err == nil {
				cookie = c.Value
			}
			actor, sessionID, ok, err := srv.authenticate(r.Context(), bearerOrCookie(r.Header.Get("Authorization"), cookie))
			if err != nil {
				slog.ErrorContext(r.Context(), "authenticate", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor, sessionID)))
		})
	}
}
