package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/club-sync/internal/app/club"
	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(map[string]any(details))
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	writeJSON(w, status, er)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// backendErrors maps backend error kinds to viewer responses. Order matters:
// the first match wins.
var backendErrors = []struct {
	kind   error
	status int
	code   string
}{
	{clubapi.ErrNotLoggedIn, http.StatusUnauthorized, "NOT_LOGGED_IN"},
	{clubapi.ErrMaxLoginRetries, http.StatusUnauthorized, "LOGIN_FAILED"},
	{clubapi.ErrUnauthorized, http.StatusUnauthorized, "LOGIN_FAILED"},
	{clubapi.ErrSyncTooSoon, http.StatusTooManyRequests, "SYNC_TOO_SOON"},
	{clubapi.ErrHostUnreachable, http.StatusServiceUnavailable, "HOST_UNREACHABLE"},
	{clubapi.ErrRequestCancelled, http.StatusServiceUnavailable, "REQUEST_CANCELLED"},
	{clubapi.ErrClientError, http.StatusBadGateway, "BACKEND_REJECTED"},
	{clubapi.ErrHostError, http.StatusBadGateway, "BACKEND_ERROR"},
	{clubapi.ErrEmptyResponse, http.StatusBadGateway, "BACKEND_ERROR"},
	{clubapi.ErrResponseParse, http.StatusBadGateway, "BACKEND_ERROR"},
	{syncer.ErrParse, http.StatusBadGateway, "BACKEND_ERROR"},
}

// writeAppError renders err. Application errors carry their own status;
// backend failures map by kind; anything else is a 500.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if ae := (*club.Error)(nil); errors.As(err, &ae) {
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	for _, m := range backendErrors {
		if errors.Is(err, m.kind) {
			logging.From(r.Context()).Warn("backend request failed", logging.ErrAttr(err))
			writeError(w, r, m.status, m.code, m.kind.Error(), nil)
			return
		}
	}
	logging.From(r.Context()).Error("request failed", logging.ErrAttr(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
