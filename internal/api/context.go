// ABOUTME: Request context key types and accessors for the api package.
// ABOUTME: RequireAuthenticated stores the actor; the RBAC middleware adds org and role.
package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/gestaopublica/gestor/internal/policy"
)

type contextKey int

const (
	ctxActor     contextKey = iota // policy.ActorContext for the authenticated session
	ctxSessionID                   // uuid.UUID of the authenticated session
	ctxOrgID                       // uuid.UUID from the {org_id} path param
	ctxRole                        // policy.Role the request was authorized with
)

func withActor(ctx context.Context, actor policy.ActorContext, sessionID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, ctxActor, actor)
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

func actorFromContext(ctx context.Context) (policy.ActorContext, bool) {
	a, ok := ctx.Value(ctxActor).(policy.ActorContext)
	return a, ok
}

func sessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxSessionID).(uuid.UUID)
	return id, ok
}

// roleFromContext returns the role set by RequireOrgRole or RequireActiveRole.
func roleFromContext(ctx context.Context) policy.Role {
	r, ok := ctx.Value(ctxRole).(policy.Role)
	if !ok {
		return policy.RoleNone
	}
	return r
}
