package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// NewTokenAuthMiddleware enforces Authorization: Bearer <token> for every
// endpoint except /healthz. An empty token disables the check.
//
// Browsers cannot set headers on a WebSocket handshake, so /ws also accepts
// the token as the access_token query parameter.
func NewTokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			var raw string
			if authz := r.Header.Get("Authorization"); authz != "" {
				const prefix = "Bearer "
				if !strings.HasPrefix(authz, prefix) {
					writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed Authorization header", nil)
					return
				}
				raw = strings.TrimSpace(strings.TrimPrefix(authz, prefix))
			} else if r.URL.Path == "/ws" {
				raw = r.URL.Query().Get("access_token")
			}
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			if subtle.ConstantTimeCompare([]byte(raw), want) != 1 {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
