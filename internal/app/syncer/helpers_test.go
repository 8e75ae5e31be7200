package syncer

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	memclock "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/clock"
	memstore "github.com/Overland-East-Bay/club-sync/internal/adapters/memory/localstore"
	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

// fakeSender answers requests from canned bodies keyed by path and query.
type fakeSender struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []clubapi.Request
	gate      chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{responses: make(map[string]string)}
}

func requestKey(req clubapi.Request) string {
	return req.Path + "?" + req.Params.Encode()
}

func (f *fakeSender) on(req clubapi.Request, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[requestKey(req)] = body
}

func (f *fakeSender) Send(ctx context.Context, req clubapi.Request) (clubapi.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	body, ok := f.responses[requestKey(req)]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		return clubapi.Response{}, &clubapi.StatusError{Kind: clubapi.ErrClientError, Status: http.StatusNotFound}
	}
	return clubapi.Response{Status: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeSender) count(req clubapi.Request) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if requestKey(r) == requestKey(req) {
			n++
		}
	}
	return n
}

// recorder is a synchronous Publisher.
type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Publish(topic notify.Topic, subjects ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notify.Notification{Topic: topic, Subjects: append([]string(nil), subjects...)})
}

func (r *recorder) byTopic(topic notify.Topic) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.notes {
		if n.Topic == topic {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

type fixture struct {
	s      *Syncer
	store  *memstore.Store
	sender *fakeSender
	bus    *recorder
	clock  *memclock.ManualClock
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.NewStore(),
		sender: newFakeSender(),
		bus:    &recorder{},
		clock:  memclock.NewManualClock(t0),
	}
	f.s = New(Config{Store: f.store, Sender: f.sender, Bus: f.bus, Clock: f.clock})
	t.Cleanup(f.s.Close)
	return f
}

func (f *fixture) division(t *testing.T, id domain.DivisionID) domain.Division {
	t.Helper()
	var d domain.Division
	err := f.store.View(context.Background(), func(tx localstore.Tx) error {
		var err error
		d, err = tx.Divisions().Get(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("division %s: %v", id, err)
	}
	return d
}

func (f *fixture) user(t *testing.T, id domain.UserID) domain.User {
	t.Helper()
	var u domain.User
	err := f.store.View(context.Background(), func(tx localstore.Tx) error {
		var err error
		u, err = tx.Users().Get(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("user %s: %v", id, err)
	}
	return u
}

func (f *fixture) message(t *testing.T, id domain.MessageID) domain.Message {
	t.Helper()
	var m domain.Message
	err := f.store.View(context.Background(), func(tx localstore.Tx) error {
		var err error
		m, err = tx.Messages().Get(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("message %s: %v", id, err)
	}
	return m
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
