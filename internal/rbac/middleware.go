package rbac

import (
	"net/http"

	"log/slog"

	"github.com/meridian-admin/meridian/internal/shared"
)

// Middleware wires permission checks into HTTP handlers.
type Middleware struct {
	Checker *Checker
	Logger  *slog.Logger
}

// Require denies the request unless the current actor holds the permission.
// A missing actor is a deny; the engine never fails open.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return m.require(resource, action, "")
}

// RequireScoped is Require with an explicit scope on the check.
func (m Middleware) RequireScoped(resource, action, scope string) func(http.Handler) http.Handler {
	return m.require(resource, action, scope)
}

func (m Middleware) require(resource, action, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			allowed := m.Checker.Check(r.Context(), CheckRequest{
				UserID:   actor.UserID,
				Resource: resource,
				Action:   action,
				Scope:    scope,
			})
			if !allowed {
				if m.Logger != nil {
					m.Logger.Info("request denied",
						slog.Int64("user_id", actor.UserID),
						slog.String("resource", resource),
						slog.String("action", action))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
