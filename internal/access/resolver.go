// ABOUTME: Resolver turns a session ID into a policy.ActorContext, caching results per session.
// ABOUTME: Callers invalidate on org switch, logout and membership changes.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gestaopublica/gestor/internal/cache"
	"github.com/gestaopublica/gestor/internal/policy"
	"github.com/gestaopublica/gestor/internal/store"
)

// SnapshotLoader reads the session, user and memberships in one consistent read.
type SnapshotLoader interface {
	LoadActorSnapshot(ctx context.Context, sessionID uuid.UUID) (*store.ActorSnapshot, error)
}

// Resolver builds ActorContexts. The cache is injected so its lifetime is the
// caller's (one per process in production, one per test otherwise).
type Resolver struct {
	loader SnapshotLoader
	cache  *cache.TTL[uuid.UUID, policy.ActorContext]
}

// NewResolver returns a Resolver backed by loader and c.
func NewResolver(loader SnapshotLoader, c *cache.TTL[uuid.UUID, policy.ActorContext]) *Resolver {
	return &Resolver{loader: loader, cache: c}
}

// Resolve returns the ActorContext for sessionID. ok is false when the
// session is unknown, expired or belongs to an inactive user.
func (r *Resolver) Resolve(ctx context.Context, sessionID uuid.UUID) (actor policy.ActorContext, ok bool, err error) {
	if cached, hit := r.cache.Get(sessionID); hit {
		return cached, true, nil
	}
	ctx, span := otel.Tracer("gestor/access").Start(ctx, "access.LoadActor")
	defer span.End()

	snap, err := r.loader.LoadActorSnapshot(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load actor snapshot")
		return policy.ActorContext{}, false, fmt.Errorf("resolve actor: %w", err)
	}
	if snap == nil {
		span.SetAttributes(attribute.Bool("actor.found", false))
		return policy.ActorContext{}, false, nil
	}
	actor = FromSnapshot(snap)
	span.SetAttributes(
		attribute.Bool("actor.found", true),
		attribute.Bool("actor.super_admin", actor.IsSuperAdmin),
		attribute.Int("actor.memberships", len(actor.Memberships)),
	)
	r.cache.Set(sessionID, actor)
	return actor, true, nil
}

// Invalidate drops the cached context for one session.
func (r *Resolver) Invalidate(sessionID uuid.UUID) {
	r.cache.Invalidate(sessionID)
}

// InvalidateUser drops every cached context belonging to userID. Call after
// changing that user's memberships or global role.
func (r *Resolver) InvalidateUser(userID uuid.UUID) {
	n := r.cache.InvalidateFunc(func(_ uuid.UUID, a policy.ActorContext) bool {
		return a.UserID == userID
	})
	if n > 0 {
		slog.Debug("actor cache invalidated", "user_id", userID, "entries", n)
	}
}

// FromSnapshot converts a store snapshot to an ActorContext.
func FromSnapshot(snap *store.ActorSnapshot) policy.ActorContext {
	memberships := make([]policy.Membership, len(snap.Memberships))
	for i, m := range snap.Memberships {
		memberships[i] = policy.Membership{
			UserID:         m.UserID,
			OrganizationID: m.OrganizationID,
			Role:           m.Role,
		}
	}
	var active *uuid.UUID
	if snap.Session.ActiveOrganizationID != nil {
		id := *snap.Session.ActiveOrganizationID
		active = &id
	}
	return policy.ActorContext{
		UserID:               snap.User.ID,
		IsSuperAdmin:         snap.User.IsSuperAdmin(),
		ActiveOrganizationID: active,
		Memberships:          memberships,
	}
}
