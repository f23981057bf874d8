package middleware

import (
	"context"
	"net/http"

	"github.com/mandiflow/produce-backend/api/responses"
	"github.com/mandiflow/produce-backend/pkg/enums"
	pkgerrors "github.com/mandiflow/produce-backend/pkg/errors"
	"github.com/mandiflow/produce-backend/pkg/logger"
)

// Authentication happens upstream; the gateway forwards the verified caller
// identity in these headers.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
)

type actorCtxKey struct{}

// ActorIdentity is the authenticated caller attached to the request context.
type ActorIdentity struct {
	ID   string
	Role enums.ActorRole
}

// ActorContext extracts the forwarded caller identity and rejects requests
// without one.
func ActorContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(actorIDHeader)
			role, err := enums.ParseActorRole(r.Header.Get(actorRoleHeader))
			if id == "" || err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeForbidden, "actor context missing"))
				return
			}

			ctx := context.WithValue(r.Context(), actorCtxKey{}, ActorIdentity{ID: id, Role: role})
			if logg != nil {
				ctx = logg.WithActor(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActorIdentity attaches a caller identity directly, bypassing the
// header extraction. Used by tests.
func WithActorIdentity(ctx context.Context, identity ActorIdentity) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, identity)
}

// ActorFromContext returns the caller identity set by ActorContext.
func ActorFromContext(ctx context.Context) (ActorIdentity, bool) {
	identity, ok := ctx.Value(actorCtxKey{}).(ActorIdentity)
	return identity, ok
}
