package httpapi

import (
	"context"
	"net/http"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ActorMiddleware reads the calling identity from headers set by the
// edge proxy after it has validated the device token or staff JWT.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:     r.Header.Get("X-Actor-Id"),
			Role:   domain.Role(r.Header.Get("X-Actor-Role")),
			Region: r.Header.Get("X-Actor-Region"),
		}
		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(domain.Actor)
	if !ok || actor.ID == "" || !actor.Role.Valid() {
		return domain.Actor{}, false
	}
	return actor, true
}
