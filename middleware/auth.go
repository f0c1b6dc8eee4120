package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// AdminAuth guards the admin introspection routes with a single
// operator bearer token (config.Config.AdminToken) — there is no
// per-tenant API key concept in this service, just one operator.
type AdminAuth struct {
	logger zerolog.Logger
	token  string
}

// NewAdminAuth creates the admin auth middleware. An empty token
// rejects every request, since an unset ADMIN_TOKEN almost certainly
// means the operator forgot to configure it rather than meaning "open".
func NewAdminAuth(logger zerolog.Logger, token string) *AdminAuth {
	return &AdminAuth{logger: logger, token: token}
}

// Handler returns the middleware handler function.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			token = authHeader[len("bearer "):]
		}

		if a.token == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			a.logger.Warn().Str("path", r.URL.Path).Msg("admin auth rejected")
			http.Error(w, `{"error":"unauthorized","message":"a valid admin bearer token is required"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
