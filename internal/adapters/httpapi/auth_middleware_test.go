package httpapi

import (
	"net/http"
	"testing"
)

func TestTokenAuthMiddleware(t *testing.T) {
	api := newTestAPI(t, RouterOptions{AuthMiddleware: NewTokenAuthMiddleware("s3cret")})

	cases := []struct {
		name    string
		path    string
		headers []string
		status  int
	}{
		{name: "healthz exempt", path: "/healthz", status: http.StatusOK},
		{name: "missing token", path: "/divisions", status: http.StatusUnauthorized},
		{name: "malformed header", path: "/divisions", headers: []string{"Authorization", "Basic abc"}, status: http.StatusUnauthorized},
		{name: "invalid token", path: "/divisions", headers: []string{"Authorization", "Bearer nope"}, status: http.StatusUnauthorized},
		{name: "valid token", path: "/divisions", headers: []string{"Authorization", "Bearer s3cret"}, status: http.StatusOK},
		{name: "query token outside ws", path: "/divisions?access_token=s3cret", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := api.do(t, http.MethodGet, tc.path, nil, tc.headers...)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tc.status, rr.Body.String())
			}
			if tc.status == http.StatusUnauthorized {
				er := expectError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
				if !er.Error.RequestId.IsSpecified() || er.Error.RequestId.IsNull() {
					t.Fatalf("expected requestId in error body: %s", rr.Body.String())
				}
			}
		})
	}
}

func TestTokenAuthMiddleware_EmptyTokenDisablesAuth(t *testing.T) {
	api := newTestAPI(t, RouterOptions{AuthMiddleware: NewTokenAuthMiddleware("")})

	rr := api.do(t, http.MethodGet, "/divisions", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rr.Code, rr.Body.String())
	}
}
