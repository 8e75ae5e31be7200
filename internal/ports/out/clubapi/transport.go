package clubapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend paths consumed by the client.
const (
	PathLogin        = "/api/login"
	PathMessage      = "/api/user/message"
	PathUser         = "/api/user/user"
	PathUserAvatar   = "/api/user/user/avatar"
	PathDivision     = "/api/user/division"
	PathDivisionSync = "/api/user/division/sync"
	PathEvent        = "/api/user/event"
)

// Login response headers. All three are mandatory.
const (
	HeaderUserID        = "User-ID"
	HeaderSystemID      = "System-ID"
	HeaderSystemVersion = "System-Version"
)

// DateTimeLayout formats date parameters (yyyy-MM-dd'T'HH:mm:ss).
const DateTimeLayout = "2006-01-02T15:04:05"

// FormatDateTime renders t in loc using DateTimeLayout.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateTimeLayout)
}

// Request is one logical backend call.
type Request struct {
	Method string
	Path   string
	Params url.Values
}

func Get(path string, params url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Params: params}
}

func Post(path string, params url.Values) Request {
	return Request{Method: http.MethodPost, Path: path, Params: params}
}

// Response is a 2xx reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single request. Non-2xx replies and transport
// failures are returned as errors wrapping the sentinels in this package.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// BaseURL turns a credential domain into the backend base URL. A bare host
// is served over https.
func BaseURL(domain string) string {
	d := strings.TrimRight(strings.TrimSpace(domain), "/")
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		return d
	}
	return "https://" + d
}
