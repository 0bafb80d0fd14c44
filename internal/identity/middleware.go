package identity

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const userContextKey = contextKey("identity.user")

// UsernameFromContext returns the authenticated username stored by
// BasicAuthMiddleware, or "" if the request was not authenticated.
func UsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(userContextKey).(string)
	return username
}

// BasicAuthMiddleware rejects requests whose HTTP basic auth credentials do
// not match a stored account. On success the username is attached to the
// request context.
func BasicAuthMiddleware(users *UserStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="roomcast"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			valid, err := users.Validate(r.Context(), username, password)
			if err != nil {
				logger.Error("auth check failed", "username", username, "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !valid {
				logger.Info("auth rejected", "username", username, "path", r.URL.Path)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
