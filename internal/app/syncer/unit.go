package syncer

import (
	"context"
	"errors"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

type Kind string

const (
	KindUser     Kind = "user"
	KindDivision Kind = "division"
	KindEvent    Kind = "event"
	KindMessage  Kind = "message"
)

type entityKey struct {
	kind Kind
	id   string
}

// Unit is one logical mutation: a store transaction plus the syncs and
// notifications that must only happen once it commits.
type Unit struct {
	tx localstore.Tx

	syncs     []entityKey
	scheduled map[entityKey]bool

	topics   []notify.Topic
	subjects map[notify.Topic][]string
	seen     map[notify.Topic]map[string]bool
}

func newUnit(tx localstore.Tx) *Unit {
	return &Unit{
		tx:        tx,
		scheduled: make(map[entityKey]bool),
		subjects:  make(map[notify.Topic][]string),
		seen:      make(map[notify.Topic]map[string]bool),
	}
}

func (u *Unit) Tx() localstore.Tx { return u.tx }

// ScheduleSync queues a detail sync of (kind, id) for after commit.
func (u *Unit) ScheduleSync(kind Kind, id string) {
	k := entityKey{kind: kind, id: id}
	if u.scheduled[k] {
		return
	}
	u.scheduled[k] = true
	u.syncs = append(u.syncs, k)
}

// Notify adds subjects to the unit's single notification for topic.
func (u *Unit) Notify(topic notify.Topic, subjects ...string) {
	seen, ok := u.seen[topic]
	if !ok {
		seen = make(map[string]bool)
		u.seen[topic] = seen
		u.topics = append(u.topics, topic)
	}
	for _, s := range subjects {
		if seen[s] {
			continue
		}
		seen[s] = true
		u.subjects[topic] = append(u.subjects[topic], s)
	}
}

// ensure returns whether a stub for (kind, id) had to be inserted.
func (u *Unit) ensure(ctx context.Context, kind Kind, id string) (bool, error) {
	var err error
	switch kind {
	case KindUser:
		_, err = u.tx.Users().Get(ctx, domain.UserID(id))
	case KindDivision:
		_, err = u.tx.Divisions().Get(ctx, domain.DivisionID(id))
	case KindEvent:
		_, err = u.tx.Events().Get(ctx, domain.EventID(id))
	case KindMessage:
		_, err = u.tx.Messages().Get(ctx, domain.MessageID(id))
	default:
		return false, &EntityError{Kind: kind, ID: id, Err: ErrNotImplemented}
	}
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return false, err
	}

	switch kind {
	case KindUser:
		err = u.tx.Users().Insert(ctx, domain.User{ID: domain.UserID(id)})
	case KindDivision:
		err = u.tx.Divisions().Insert(ctx, domain.NewDivisionStub(domain.DivisionID(id)))
	case KindEvent:
		err = u.tx.Events().Insert(ctx, domain.Event{ID: domain.EventID(id)})
	case KindMessage:
		err = u.tx.Messages().Insert(ctx, domain.Message{ID: domain.MessageID(id)})
	}
	if err != nil {
		return false, &EntityError{Kind: kind, ID: id, Err: err}
	}
	return true, nil
}
