// Package httpclient implements the backend transport on net/http.
package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

const (
	HeaderRequestID = "X-Request-ID"

	userAgent    = "club-sync"
	maxBodyBytes = 8 << 20
)

var errSessionReset = errors.New("transport session reset")

// Client is a clubapi.Transport backed by an http.Client with a cookie jar.
// The session cookie set by /api/login is reused by every later request.
type Client struct {
	timeout time.Duration

	mu      sync.Mutex
	base    *url.URL
	http    *http.Client
	session context.Context
	reset   context.CancelCauseFunc
}

// New returns a client for baseURL. An empty baseURL is allowed; requests fail
// with ErrNotLoggedIn until Reset sets one.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	c := &Client{timeout: timeout}
	if err := c.Reset(baseURL); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset starts a new transport session against baseURL. In-flight requests of
// the previous session fail with ErrRequestCancelled and cookies are dropped.
func (c *Client) Reset(baseURL string) error {
	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return goerr.Wrap(err, "parse base url", goerr.V("base_url", baseURL))
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return goerr.New("base url must be http or https", goerr.V("base_url", baseURL))
		}
		base = u
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return goerr.Wrap(err, "create cookie jar")
	}
	session, cancel := context.WithCancelCause(context.Background())

	c.mu.Lock()
	prev := c.reset
	c.base = base
	c.http = &http.Client{Jar: jar, Timeout: c.timeout}
	c.session = session
	c.reset = cancel
	c.mu.Unlock()

	if prev != nil {
		prev(errSessionReset)
	}
	return nil
}

// BaseURL returns the current base URL, or "" when none is set.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

func (c *Client) Do(ctx context.Context, req clubapi.Request) (clubapi.Response, error) {
	c.mu.Lock()
	base, hc, session := c.base, c.http, c.session
	c.mu.Unlock()

	if base == nil {
		return clubapi.Response{}, goerr.Wrap(clubapi.ErrNotLoggedIn, "no backend configured")
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(session, func() { cancel(context.Cause(session)) })
	defer stop()

	httpReq, err := buildRequest(reqCtx, base, req)
	if err != nil {
		return clubapi.Response{}, err
	}
	reqID := uuid.NewString()
	httpReq.Header.Set(HeaderRequestID, reqID)

	log := logging.From(ctx).With(
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("request_id", reqID),
	)
	start := time.Now()

	resp, err := hc.Do(httpReq)
	if err != nil {
		kind := classifyTransport(reqCtx, err)
		log.Debug("backend request failed", slog.Any("kind", kind), logging.ErrAttr(err))
		return clubapi.Response{}, &clubapi.TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		kind := classifyTransport(reqCtx, err)
		return clubapi.Response{}, &clubapi.TransportError{Kind: kind, Err: err}
	}
	if len(body) > maxBodyBytes {
		log.Warn("backend response too large", slog.Int("status", resp.StatusCode))
		return clubapi.Response{}, goerr.Wrap(clubapi.ErrResponseParse, "response body too large",
			goerr.V("path", req.Path), goerr.V("limit_bytes", maxBodyBytes), goerr.V("content_length", resp.ContentLength))
	}
	log.Debug("backend request done",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return clubapi.Response{}, &clubapi.StatusError{
			Kind:   clubapi.ClassifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Body:   body,
		}
	}
	return clubapi.Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func buildRequest(ctx context.Context, base *url.URL, req clubapi.Request) (*http.Request, error) {
	u := base.JoinPath(req.Path)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(req.Params) > 0 {
			u.RawQuery = req.Params.Encode()
		}
	} else {
		body = strings.NewReader(req.Params.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, goerr.Wrap(err, "build request", goerr.V("path", req.Path))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	return httpReq, nil
}

// classifyTransport maps a failed round trip to an error kind. ctx is the
// request context, whose cause tells a session reset from a caller cancel.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errSessionReset) || errors.Is(err, context.Canceled) {
		return clubapi.ErrRequestCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return clubapi.ErrHostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return clubapi.ErrHostUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return clubapi.ErrHostUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return clubapi.ErrHostUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return clubapi.ErrHostUnreachable
	}
	return clubapi.ErrNotRecognized
}
