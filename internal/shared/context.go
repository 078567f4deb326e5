package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type actorContextKey struct{}

type correlationContextKey struct{}

// Actor identifies the authenticated caller for audit and permission checks.
// Authentication happens upstream; the gateway forwards the identity in
// trusted headers.
type Actor struct {
	UserID    int64
	IP        string
	UserAgent string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return value
// reports whether an actor was present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithCorrelationID stores the request correlation ID in context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID for the current
// request, generating one when the middleware did not set it.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationContextKey{}).(string); ok {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			return trimmed
		}
	}
	return uuid.NewString()
}
