// Package syncer merges backend snapshots into the local store.
//
// It resolves references to local entities, populates stubs from detail
// payloads and reconciles membership sets. Every mutation runs on the
// background serial queue inside a store transaction; syncs of stubs created
// by a mutation and its change notifications are released only after the
// transaction commits.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/platform/serial"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clock"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

// Sender performs backend requests; the orchestrator implements it.
type Sender interface {
	Send(ctx context.Context, req clubapi.Request) (clubapi.Response, error)
}

// Publisher is the notification side of the bus.
type Publisher interface {
	Publish(topic notify.Topic, subjects ...string)
}

type Config struct {
	Store  localstore.Store
	Sender Sender
	Bus    Publisher
	Clock  clock.Clock

	// Location interprets server date/times that carry no zone.
	Location *time.Location
}

type Syncer struct {
	store  localstore.Store
	sender Sender
	bus    Publisher
	clock  clock.Clock
	loc    *time.Location
	queue  *serial.Queue

	mu       sync.Mutex
	inFlight map[entityKey]struct{}

	background sync.WaitGroup
}

func New(cfg Config) *Syncer {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{
		store:    cfg.Store,
		sender:   cfg.Sender,
		bus:      cfg.Bus,
		clock:    cfg.Clock,
		loc:      loc,
		queue:    serial.New("background"),
		inFlight: make(map[entityKey]struct{}),
	}
}

// Queue returns the background mutation queue.
func (s *Syncer) Queue() *serial.Queue { return s.queue }

// Location is the zone server date/times without a zone are read in.
func (s *Syncer) Location() *time.Location { return s.loc }

// Close waits for background syncs and stops the mutation queue.
func (s *Syncer) Close() {
	s.background.Wait()
	s.queue.Close()
}

// Wait blocks until every background sync dispatched so far, and the ones
// they dispatch in turn, has finished.
func (s *Syncer) Wait() {
	s.background.Wait()
}

// Update runs fn as one unit on the background queue. If fn fails nothing it
// wrote is kept and nothing is synced or published. Notifications are
// published from the queue right after commit, so they reach the bus in
// commit order.
func (s *Syncer) Update(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	var committed *Unit
	err := s.queue.Do(ctx, func(ctx context.Context) error {
		err := s.store.Update(ctx, func(tx localstore.Tx) error {
			u := newUnit(tx)
			if err := fn(ctx, u); err != nil {
				return err
			}
			committed = u
			return nil
		})
		if err != nil {
			return err
		}
		s.publish(committed)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range committed.syncs {
		s.dispatch(ctx, k.kind, k.id)
	}
	return nil
}

func (s *Syncer) publish(u *Unit) {
	for _, topic := range u.topics {
		s.bus.Publish(topic, u.subjects[topic]...)
	}
}

// dispatch starts a detail sync in the background. Failures are logged only.
func (s *Syncer) dispatch(ctx context.Context, kind Kind, id string) {
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.Sync(bg, kind, id); err != nil {
			log := logging.From(bg).With(slog.String("kind", string(kind)), slog.String("id", id))
			if clubapi.IsCancelled(err) {
				log.Debug("background sync cancelled")
				return
			}
			log.Warn("background sync failed", logging.ErrAttr(err))
		}
	}()
}

func (s *Syncer) now() time.Time {
	return s.clock.Now().UTC()
}

// Sync fetches the detail of (kind, id) and populates it. While a sync of
// the same entity is outstanding further calls return immediately.
func (s *Syncer) Sync(ctx context.Context, kind Kind, id string) error {
	k := entityKey{kind: kind, id: id}
	s.mu.Lock()
	if _, busy := s.inFlight[k]; busy {
		s.mu.Unlock()
		return nil
	}
	s.inFlight[k] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, k)
		s.mu.Unlock()
	}()

	req, err := detailRequest(kind, id)
	if err != nil {
		return err
	}
	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return goerr.Wrap(err, "fetch detail", goerr.V("kind", kind), goerr.V("id", id))
	}
	if len(resp.Body) == 0 {
		return goerr.Wrap(clubapi.ErrEmptyResponse, "empty detail response", goerr.V("kind", kind), goerr.V("id", id))
	}
	return s.Populate(ctx, kind, id, resp.Body)
}

// InProgress reports whether a sync of (kind, id) is outstanding.
func (s *Syncer) InProgress(kind Kind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[entityKey{kind: kind, id: id}]
	return ok
}

func detailRequest(kind Kind, id string) (clubapi.Request, error) {
	switch kind {
	case KindUser:
		return clubapi.Get(clubapi.PathUser, url.Values{"userID": {id}}), nil
	case KindDivision:
		return clubapi.Get(clubapi.PathDivision, url.Values{"divisionID": {id}}), nil
	case KindEvent:
		return clubapi.Get(clubapi.PathEvent, url.Values{"id": {id}}), nil
	case KindMessage:
		return clubapi.Get(clubapi.PathMessage, url.Values{"messageID": {id}}), nil
	}
	return clubapi.Request{}, goerr.Wrap(ErrNotImplemented, "no detail endpoint", goerr.V("kind", kind))
}

// Populate applies a detail payload to (kind, id) as one unit.
func (s *Syncer) Populate(ctx context.Context, kind Kind, id string, payload json.RawMessage) error {
	return s.Update(ctx, func(ctx context.Context, u *Unit) error {
		return s.populate(ctx, u, kind, id, payload)
	})
}

func (s *Syncer) populate(ctx context.Context, u *Unit, kind Kind, id string, payload json.RawMessage) error {
	switch kind {
	case KindUser:
		return s.populateUser(ctx, u, id, payload)
	case KindDivision:
		return s.populateDivision(ctx, u, id, payload)
	case KindEvent:
		return s.populateEvent(ctx, u, id, payload)
	case KindMessage:
		return s.populateMessage(ctx, u, id, payload)
	}
	return goerr.Wrap(ErrNotImplemented, "no populate for kind", goerr.V("kind", kind))
}

// sameState compares two entities by their canonical encoding.
func sameState(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
