package middleware

import (
	"context"
	"net/http"

	"timebank/internal/models"
	"timebank/internal/store"
)

type CapabilityStore interface {
	Capabilities(ctx context.Context, userID string) (store.Capabilities, error)
}

// ResolveActor loads the caller's capabilities and stores the resulting
// models.Actor in the request context. It must run after Auth.
func ResolveActor(capabilities CapabilityStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			caps, err := capabilities.Capabilities(r.Context(), userID)
			if err != nil {
				http.Error(w, "unable to verify capabilities", http.StatusInternalServerError)
				return
			}
			actor := models.Actor{
				AccountID:   userID,
				IsAdmin:     caps.IsAdmin,
				IsModerator: caps.IsModerator,
				IsOwner:     caps.IsOwner,
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// RequireAdmin admits admins and owners.
func RequireAdmin() func(http.Handler) http.Handler {
	return require(func(actor models.Actor) bool { return actor.IsAdmin || actor.IsOwner }, "admin privileges required")
}

// RequireStaff admits admins, moderators and owners.
func RequireStaff() func(http.Handler) http.Handler {
	return require(models.Actor.IsStaff, "staff privileges required")
}

// RequireOwner admits super admins only.
func RequireOwner() func(http.Handler) http.Handler {
	return require(func(actor models.Actor) bool { return actor.IsOwner }, "owner privileges required")
}

func require(allowed func(models.Actor) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(actor) {
				http.Error(w, message, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
