package club

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	memclock "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/clock"
	memstore "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/localstore"
	memprefs "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/prefs"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

// backend answers requests from canned bodies keyed by method, path and
// parameters. Unknown requests get a 404.
type backend struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func newBackend() *backend {
	return &backend{responses: make(map[string]string), calls: make(map[string]int)}
}

func key(req clubapi.Request) string {
	return req.Method + " " + req.Path + "?" + req.Params.Encode()
}

func (b *backend) on(req clubapi.Request, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[key(req)] = body
}

func (b *backend) count(req clubapi.Request) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key(req)]
}

func (b *backend) Send(ctx context.Context, req clubapi.Request) (clubapi.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(req)
	b.calls[k]++
	body, ok := b.responses[k]
	if !ok {
		return clubapi.Response{}, &clubapi.StatusError{Kind: clubapi.ErrClientError, Status: http.StatusNotFound}
	}
	return clubapi.Response{Status: http.StatusOK, Body: []byte(body)}, nil
}

type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Publish(topic notify.Topic, subjects ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notify.Notification{Topic: topic, Subjects: append([]string(nil), subjects...)})
}

func (r *recorder) count(topic notify.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Topic == topic {
			n++
		}
	}
	return n
}

type selfID domain.UserID

func (s selfID) UserID(context.Context) (domain.UserID, error) {
	if s == "" {
		return "", clubapi.ErrNotLoggedIn
	}
	return domain.UserID(s), nil
}

type fixture struct {
	svc     *Service
	syncer  *syncer.Syncer
	backend *backend
	bus     *recorder
	store   *memstore.Store
	prefs   *memprefs.Store
	clock   *memclock.ManualClock
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		backend: newBackend(),
		bus:     &recorder{},
		store:   memstore.NewStore(),
		prefs:   memprefs.NewStore(),
		clock:   memclock.NewManualClock(t0),
	}
	f.syncer = syncer.New(syncer.Config{Store: f.store, Sender: f.backend, Bus: f.bus, Clock: f.clock})
	t.Cleanup(f.syncer.Close)

	cfg := Config{
		Syncer:                f.syncer,
		Sender:                f.backend,
		Store:                 f.store,
		Prefs:                 f.prefs,
		Identity:              selfID("me"),
		Clock:                 f.clock,
		DefaultReminderOffset: time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.svc = NewService(cfg)
	return f
}

// populate applies a detail payload directly.
func (f *fixture) populate(t *testing.T, kind syncer.Kind, id, payload string) {
	t.Helper()
	gt.NoError(t, f.syncer.Populate(context.Background(), kind, id, json.RawMessage(payload))).Required()
}

func eventPayload(name, lastChanged string) string {
	return `{"name":"` + name + `","startDateTime":"2024-06-01T09:00:00","endDateTime":"2024-06-01T11:00:00","lastChanged":"` + lastChanged + `"}`
}
