package club

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

// InboxEntry is one member division in the inbox.
type InboxEntry struct {
	Division domain.Division
	Latest   *domain.Message
	Unread   int
}

// EventDetail is an event with its responder index and the effective
// reminder offset.
type EventDetail struct {
	Event      domain.Event
	Responders domain.Responders
	MyResponse *domain.EventResponse
	Reminder   time.Duration
}

func (s *Service) Divisions(ctx context.Context, status *domain.MembershipStatus) ([]domain.Division, error) {
	var out []domain.Division
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		out, err = tx.Divisions().List(ctx, localstore.DivisionFilter{Status: status})
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list divisions")
	}
	return out, nil
}

func (s *Service) Division(ctx context.Context, id domain.DivisionID) (domain.Division, error) {
	var d domain.Division
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		d, err = tx.Divisions().Get(ctx, id)
		return err
	})
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Division{}, notFound("division", string(id))
	}
	if err != nil {
		return domain.Division{}, goerr.Wrap(err, "load division", goerr.V("id", id))
	}
	return d, nil
}

// Inbox lists member divisions, the one with the newest message first.
// Divisions without messages come last.
func (s *Service) Inbox(ctx context.Context) ([]InboxEntry, error) {
	member := domain.MembershipMember
	var out []InboxEntry
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		ds, err := tx.Divisions().List(ctx, localstore.DivisionFilter{Status: &member})
		if err != nil {
			return err
		}
		for _, d := range ds {
			entry := InboxEntry{Division: d}
			ms, err := tx.Messages().ListByDivision(ctx, d.ID, 0)
			if err != nil {
				return err
			}
			for _, m := range ms {
				if !m.Read {
					entry.Unread++
				}
			}
			if d.LatestMessage != nil {
				m, err := tx.Messages().Get(ctx, *d.LatestMessage)
				if err == nil {
					entry.Latest = &m
				} else if !errors.Is(err, localstore.ErrNotFound) {
					return err
				}
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "build inbox")
	}
	slices.SortStableFunc(out, func(a, b InboxEntry) int {
		at, bt := a.Division.LatestMessageAt, b.Division.LatestMessageAt
		switch {
		case at == nil && bt == nil:
			return cmp.Compare(a.Division.ID, b.Division.ID)
		case at == nil:
			return 1
		case bt == nil:
			return -1
		}
		if c := bt.Compare(*at); c != 0 {
			return c
		}
		return cmp.Compare(a.Division.ID, b.Division.ID)
	})
	return out, nil
}

// DivisionMessages returns a division's messages, newest first.
func (s *Service) DivisionMessages(ctx context.Context, id domain.DivisionID, limit int) ([]domain.Message, error) {
	if _, err := s.Division(ctx, id); err != nil {
		return nil, err
	}
	var out []domain.Message
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		out, err = tx.Messages().ListByDivision(ctx, id, limit)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list division messages", goerr.V("id", id))
	}
	return out, nil
}

func (s *Service) Message(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	var m domain.Message
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		m, err = tx.Messages().Get(ctx, id)
		return err
	})
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Message{}, notFound("message", string(id))
	}
	if err != nil {
		return domain.Message{}, goerr.Wrap(err, "load message", goerr.V("id", id))
	}
	return m, nil
}

// Events lists events overlapping [from, to). Nil bounds are open.
func (s *Service) Events(ctx context.Context, from, to *time.Time) ([]domain.Event, error) {
	if from != nil && to != nil && !to.After(*from) {
		return nil, invalid("to", "must be after from")
	}
	var out []domain.Event
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		out, err = tx.Events().List(ctx, localstore.EventFilter{From: from, To: to})
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list events")
	}
	return out, nil
}

func (s *Service) Event(ctx context.Context, id domain.EventID) (domain.Event, error) {
	var e domain.Event
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		e, err = tx.Events().Get(ctx, id)
		return err
	})
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Event{}, notFound("event", string(id))
	}
	if err != nil {
		return domain.Event{}, goerr.Wrap(err, "load event", goerr.V("id", id))
	}
	return e, nil
}

// EventDetail returns the event with its responders. MyResponse is nil when
// nobody is logged in or the user has not responded.
func (s *Service) EventDetail(ctx context.Context, id domain.EventID) (EventDetail, error) {
	self, selfErr := s.identity.UserID(ctx)

	var out EventDetail
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		e, err := tx.Events().Get(ctx, id)
		if err != nil {
			return err
		}
		as, err := tx.Attendance().ListByEvent(ctx, id)
		if err != nil {
			return err
		}
		out.Event = e
		out.Responders = domain.IndexResponders(as)
		if selfErr == nil {
			for _, a := range as {
				if a.UserID == self {
					r := a.Response
					out.MyResponse = &r
				}
			}
		}
		return nil
	})
	if errors.Is(err, localstore.ErrNotFound) {
		return EventDetail{}, notFound("event", string(id))
	}
	if err != nil {
		return EventDetail{}, goerr.Wrap(err, "load event detail", goerr.V("id", id))
	}
	out.Reminder = s.reminder
	if out.Event.ReminderOffset != nil {
		out.Reminder = *out.Event.ReminderOffset
	}
	return out, nil
}

func (s *Service) User(ctx context.Context, id domain.UserID) (domain.User, error) {
	var u domain.User
	err := s.store.View(ctx, func(tx localstore.Tx) error {
		var err error
		u, err = tx.Users().Get(ctx, id)
		return err
	})
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.User{}, notFound("user", string(id))
	}
	if err != nil {
		return domain.User{}, goerr.Wrap(err, "load user", goerr.V("id", id))
	}
	return u, nil
}

// UserAvatar returns the user's avatar image, downloading it when none is
// cached or refresh is set. A user without an avatar yields nil.
func (s *Service) UserAvatar(ctx context.Context, id domain.UserID, refresh bool) ([]byte, error) {
	u, err := s.User(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(u.Avatar) > 0 && !refresh {
		return u.Avatar, nil
	}
	if err := s.syncer.SyncAvatar(ctx, id); err != nil {
		return nil, err
	}
	if u, err = s.User(ctx, id); err != nil {
		return nil, err
	}
	return u.Avatar, nil
}
