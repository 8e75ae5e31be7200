package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	memclock "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/clock"
	memidempotency "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/idempotency"
	memstore "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/localstore"
	memprefs "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/prefs"
	"github.com/Overland-East-Bay/club-sync/internal/app/club"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

// fakeBackend answers club API requests from canned bodies keyed by method,
// path and parameters. Unknown requests get a 404.
type fakeBackend struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func requestKey(req clubapi.Request) string {
	return req.Method + " " + req.Path + "?" + req.Params.Encode()
}

func (b *fakeBackend) on(req clubapi.Request, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[requestKey(req)] = body
}

func (b *fakeBackend) count(req clubapi.Request) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[requestKey(req)]
}

func (b *fakeBackend) Send(_ context.Context, req clubapi.Request) (clubapi.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := requestKey(req)
	b.calls[k]++
	body, ok := b.responses[k]
	if !ok {
		return clubapi.Response{}, &clubapi.StatusError{Kind: clubapi.ErrClientError, Status: http.StatusNotFound}
	}
	return clubapi.Response{Status: http.StatusOK, Body: []byte(body)}, nil
}

type staticIdentity domain.UserID

func (s staticIdentity) UserID(context.Context) (domain.UserID, error) {
	if s == "" {
		return "", clubapi.ErrNotLoggedIn
	}
	return domain.UserID(s), nil
}

type testAPI struct {
	handler http.Handler
	server  *Server
	backend *fakeBackend
	syncer  *syncer.Syncer
	bus     *notify.Bus
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()

	clk := memclock.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.NewStore()
	backend := &fakeBackend{responses: make(map[string]string), calls: make(map[string]int)}
	bus := notify.NewBus()
	t.Cleanup(bus.Close)

	s := syncer.New(syncer.Config{Store: store, Sender: backend, Bus: bus, Clock: clk})
	t.Cleanup(s.Close)

	clubSvc := club.NewService(club.Config{
		Syncer:                s,
		Sender:                backend,
		Store:                 store,
		Prefs:                 memprefs.NewStore(),
		Identity:              staticIdentity("me"),
		Clock:                 clk,
		DefaultReminderOffset: time.Hour,
	})
	api := NewServer(clubSvc, bus, memidempotency.NewStore(), clk)
	return &testAPI{
		handler: NewRouter(api, opts),
		server:  api,
		backend: backend,
		syncer:  s,
		bus:     bus,
	}
}

func (a *testAPI) populate(t *testing.T, kind syncer.Kind, id, payload string) {
	t.Helper()
	if err := a.syncer.Populate(context.Background(), kind, id, json.RawMessage(payload)); err != nil {
		t.Fatalf("Populate(%s %s): %v", kind, id, err)
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d; body=%s", rr.Code, status, rr.Body.String())
	}
	er := decode[ErrorResponse](t, rr)
	if er.Error.Code != code {
		t.Fatalf("code = %q, want %q", er.Error.Code, code)
	}
	return er
}

const eventE1 = `{"name":"Ride","startDateTime":"2024-06-01T09:00:00","endDateTime":"2024-06-01T11:00:00","lastChanged":"2024-05-01T10:00:00"}`
