package localstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

type attendanceKey struct {
	eventID domain.EventID
	userID  domain.UserID
}

// state holds immutable values: every read and write clones, so a shallow
// copy of the maps is enough to stage a transaction.
type state struct {
	users      map[domain.UserID]domain.User
	divisions  map[domain.DivisionID]domain.Division
	events     map[domain.EventID]domain.Event
	messages   map[domain.MessageID]domain.Message
	attendance map[attendanceKey]domain.Attendance
}

func newState() *state {
	return &state{
		users:      make(map[domain.UserID]domain.User),
		divisions:  make(map[domain.DivisionID]domain.Division),
		events:     make(map[domain.EventID]domain.Event),
		messages:   make(map[domain.MessageID]domain.Message),
		attendance: make(map[attendanceKey]domain.Attendance),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:      copyMap(s.users),
		divisions:  copyMap(s.divisions),
		events:     copyMap(s.events),
		messages:   copyMap(s.messages),
		attendance: copyMap(s.attendance),
	}
}

// Store is an in-memory implementation of localstore.Store.
// It is safe for concurrent use. Update transactions are serialized and
// commit by swapping in the staged state.
type Store struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) View(ctx context.Context, fn func(tx localstore.Tx) error) error {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return localstore.ErrClosed
	}
	return fn(&tx{st: s.st, readOnly: true})
}

func (s *Store) Update(ctx context.Context, fn func(tx localstore.Tx) error) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return localstore.ErrClosed
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return localstore.ErrClosed
	}
	s.st = newState()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) Users() localstore.UserRepository { return users{t} }
func (t *tx) Divisions() localstore.DivisionRepository { return divisions{t} }
func (t *tx) Events() localstore.EventRepository { return events{t} }
func (t *tx) Messages() localstore.MessageRepository { return messages{t} }
func (t *tx) Attendance() localstore.AttendanceRepository { return attendance{t} }

func (t *tx) writable() error {
	if t.readOnly {
		return localstore.ErrReadOnly
	}
	return nil
}

type users struct{ *tx }

func (r users) Get(ctx context.Context, id domain.UserID) (domain.User, error) {
	_ = ctx
	u, ok := r.st.users[id]
	if !ok {
		return domain.User{}, localstore.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r users) Insert(ctx context.Context, u domain.User) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.users[u.ID]; ok {
		return localstore.ErrAlreadyExists
	}
	r.st.users[u.ID] = cloneUser(u)
	return nil
}

func (r users) Save(ctx context.Context, u domain.User) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.users[u.ID]; !ok {
		return localstore.ErrNotFound
	}
	r.st.users[u.ID] = cloneUser(u)
	return nil
}

func (r users) List(ctx context.Context) ([]domain.User, error) {
	_ = ctx
	out := make([]domain.User, 0, len(r.st.users))
	for _, u := range r.st.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type divisions struct{ *tx }

func (r divisions) Get(ctx context.Context, id domain.DivisionID) (domain.Division, error) {
	_ = ctx
	d, ok := r.st.divisions[id]
	if !ok {
		return domain.Division{}, localstore.ErrNotFound
	}
	return cloneDivision(d), nil
}

func (r divisions) Insert(ctx context.Context, d domain.Division) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.divisions[d.ID]; ok {
		return localstore.ErrAlreadyExists
	}
	r.st.divisions[d.ID] = cloneDivision(d)
	return nil
}

func (r divisions) Save(ctx context.Context, d domain.Division) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.divisions[d.ID]; !ok {
		return localstore.ErrNotFound
	}
	r.st.divisions[d.ID] = cloneDivision(d)
	return nil
}

func (r divisions) List(ctx context.Context, f localstore.DivisionFilter) ([]domain.Division, error) {
	_ = ctx
	out := make([]domain.Division, 0)
	for _, d := range r.st.divisions {
		if f.Status != nil && d.MembershipStatus != *f.Status {
			continue
		}
		out = append(out, cloneDivision(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type events struct{ *tx }

func (r events) Get(ctx context.Context, id domain.EventID) (domain.Event, error) {
	_ = ctx
	e, ok := r.st.events[id]
	if !ok {
		return domain.Event{}, localstore.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (r events) Insert(ctx context.Context, e domain.Event) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.events[e.ID]; ok {
		return localstore.ErrAlreadyExists
	}
	r.st.events[e.ID] = cloneEvent(e)
	return nil
}

func (r events) Save(ctx context.Context, e domain.Event) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.events[e.ID]; !ok {
		return localstore.ErrNotFound
	}
	r.st.events[e.ID] = cloneEvent(e)
	return nil
}

func (r events) List(ctx context.Context, f localstore.EventFilter) ([]domain.Event, error) {
	_ = ctx
	out := make([]domain.Event, 0)
	for _, e := range r.st.events {
		if !eventMatches(e, f) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	sortEvents(out)
	return out, nil
}

func eventMatches(e domain.Event, f localstore.EventFilter) bool {
	if f.From == nil && f.To == nil {
		return true
	}
	if e.Start == nil {
		return false
	}
	end := *e.Start
	if e.End != nil {
		end = *e.End
	}
	if f.From != nil && end.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Start.Before(*f.To) {
		return false
	}
	return true
}

// sortEvents orders by start time with unscheduled events last, then by id.
func sortEvents(es []domain.Event) {
	sort.Slice(es, func(i, j int) bool {
		si, sj := es[i].Start, es[j].Start
		switch {
		case si == nil && sj == nil:
			return es[i].ID < es[j].ID
		case si == nil:
			return false
		case sj == nil:
			return true
		case si.Equal(*sj):
			return es[i].ID < es[j].ID
		}
		return si.Before(*sj)
	})
}

type messages struct{ *tx }

func (r messages) Get(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	_ = ctx
	m, ok := r.st.messages[id]
	if !ok {
		return domain.Message{}, localstore.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r messages) Insert(ctx context.Context, m domain.Message) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.messages[m.ID]; ok {
		return localstore.ErrAlreadyExists
	}
	r.st.messages[m.ID] = cloneMessage(m)
	return nil
}

func (r messages) Save(ctx context.Context, m domain.Message) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	if _, ok := r.st.messages[m.ID]; !ok {
		return localstore.ErrNotFound
	}
	r.st.messages[m.ID] = cloneMessage(m)
	return nil
}

func (r messages) ListByDivision(ctx context.Context, id domain.DivisionID, limit int) ([]domain.Message, error) {
	_ = ctx
	out := make([]domain.Message, 0)
	for _, m := range r.st.messages {
		if m.Division == nil || *m.Division != id {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	sortMessagesNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortMessagesNewestFirst orders by timestamp descending, then id descending;
// messages without a timestamp go last.
func sortMessagesNewestFirst(ms []domain.Message) {
	sort.Slice(ms, func(i, j int) bool {
		ti, tj := ms[i].Timestamp, ms[j].Timestamp
		switch {
		case ti == nil && tj == nil:
			return ms[i].ID > ms[j].ID
		case ti == nil:
			return false
		case tj == nil:
			return true
		case ti.Equal(*tj):
			return ms[i].ID > ms[j].ID
		}
		return ti.After(*tj)
	})
}

type attendance struct{ *tx }

func (r attendance) Get(ctx context.Context, eventID domain.EventID, userID domain.UserID) (domain.Attendance, error) {
	_ = ctx
	a, ok := r.st.attendance[attendanceKey{eventID: eventID, userID: userID}]
	if !ok {
		return domain.Attendance{}, localstore.ErrNotFound
	}
	return a, nil
}

func (r attendance) Upsert(ctx context.Context, a domain.Attendance) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	r.st.attendance[attendanceKey{eventID: a.EventID, userID: a.UserID}] = a
	return nil
}

func (r attendance) Delete(ctx context.Context, eventID domain.EventID, userID domain.UserID) error {
	_ = ctx
	if err := r.writable(); err != nil {
		return err
	}
	delete(r.st.attendance, attendanceKey{eventID: eventID, userID: userID})
	return nil
}

func (r attendance) ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.Attendance, error) {
	_ = ctx
	out := make([]domain.Attendance, 0)
	for k, a := range r.st.attendance {
		if k.eventID == eventID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
