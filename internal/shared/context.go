package shared

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the operator identity resolved by the upstream access layer.
const ActorHeader = "X-Actor-ID"

// UnknownActor is recorded when a request carries no actor identity.
const UnknownActor = "unknown"

type actorContextKey struct{}

// ContextWithActor stores the acting operator in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting operator, defaulting to UnknownActor.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if strings.TrimSpace(actor) == "" {
		return UnknownActor
	}
	return actor
}

// ActorMiddleware copies the actor header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		ctx := ContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
