package club

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/app/syncer"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

// SendMessage posts a message to a division and stores the server's copy.
func (s *Service) SendMessage(ctx context.Context, divisionID domain.DivisionID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, invalid("content", "must be non-empty")
	}
	if _, err := s.Division(ctx, divisionID); err != nil {
		return domain.Message{}, err
	}

	body, err := s.fetch(ctx, clubapi.Post(clubapi.PathMessage, url.Values{
		"content":  {content},
		"division": {string(divisionID)},
	}), "send message")
	if err != nil {
		return domain.Message{}, err
	}
	refs, err := syncer.ParseRefs(body)
	if err != nil {
		return domain.Message{}, goerr.Wrap(err, "parse sent message")
	}
	if len(refs) != 1 {
		return domain.Message{}, goerr.Wrap(clubapi.ErrResponseParse, "sent message response", goerr.V("count", len(refs)))
	}
	r := refs[0]
	if r.Has("content") {
		err = s.syncer.Populate(ctx, syncer.KindMessage, r.ID, r.Fields)
	} else {
		err = s.syncer.Sync(ctx, syncer.KindMessage, r.ID)
	}
	if err != nil {
		return domain.Message{}, goerr.Wrap(err, "store sent message", goerr.V("id", r.ID))
	}
	return s.Message(ctx, domain.MessageID(r.ID))
}

// RespondToEvent sends the logged-in user's response and records it locally.
func (s *Service) RespondToEvent(ctx context.Context, eventID domain.EventID, response domain.EventResponse) error {
	switch response {
	case domain.ResponseGoing, domain.ResponseMaybe, domain.ResponseDecline:
	default:
		return invalid("response", "must be GOING, MAYBE or DECLINE")
	}
	self, err := s.identity.UserID(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Event(ctx, eventID); err != nil {
		return err
	}

	if _, err := s.sender.Send(ctx, clubapi.Post(clubapi.PathEvent, url.Values{
		"id":       {string(eventID)},
		"response": {string(response)},
	})); err != nil {
		return goerr.Wrap(err, "send event response", goerr.V("id", eventID))
	}

	return s.syncer.Update(ctx, func(ctx context.Context, u *syncer.Unit) error {
		cur, err := u.Tx().Attendance().Get(ctx, eventID, self)
		if err == nil && cur.Response == response {
			return nil
		}
		if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			return goerr.Wrap(err, "load attendance", goerr.V("event", eventID))
		}
		if _, err := u.Tx().Users().Get(ctx, self); errors.Is(err, localstore.ErrNotFound) {
			if err := u.Tx().Users().Insert(ctx, domain.User{ID: self}); err != nil {
				return goerr.Wrap(err, "insert self", goerr.V("id", self))
			}
			u.ScheduleSync(syncer.KindUser, string(self))
		}
		if err := u.Tx().Attendance().Upsert(ctx, domain.Attendance{EventID: eventID, UserID: self, Response: response}); err != nil {
			return goerr.Wrap(err, "save attendance", goerr.V("event", eventID))
		}
		u.Notify(notify.TopicCalendarSync, string(eventID))
		return nil
	})
}

// SetEventReminder overrides the reminder offset of one event; nil restores
// the default.
func (s *Service) SetEventReminder(ctx context.Context, eventID domain.EventID, offset *time.Duration) error {
	if offset != nil && *offset < 0 {
		return invalid("reminderOffset", "must not be negative")
	}
	return s.syncer.Update(ctx, func(ctx context.Context, u *syncer.Unit) error {
		e, err := u.Tx().Events().Get(ctx, eventID)
		if errors.Is(err, localstore.ErrNotFound) {
			return notFound("event", string(eventID))
		}
		if err != nil {
			return goerr.Wrap(err, "load event", goerr.V("id", eventID))
		}
		if sameDuration(e.ReminderOffset, offset) {
			return nil
		}
		if offset != nil {
			d := *offset
			e.ReminderOffset = &d
		} else {
			e.ReminderOffset = nil
		}
		if err := u.Tx().Events().Save(ctx, e); err != nil {
			return goerr.Wrap(err, "save event", goerr.V("id", eventID))
		}
		u.Notify(notify.TopicCalendarSync, string(eventID))
		return nil
	})
}

// MarkMessageRead sets the local read flag.
func (s *Service) MarkMessageRead(ctx context.Context, id domain.MessageID, read bool) error {
	return s.syncer.Update(ctx, func(ctx context.Context, u *syncer.Unit) error {
		m, err := u.Tx().Messages().Get(ctx, id)
		if errors.Is(err, localstore.ErrNotFound) {
			return notFound("message", string(id))
		}
		if err != nil {
			return goerr.Wrap(err, "load message", goerr.V("id", id))
		}
		if m.Read == read {
			return nil
		}
		m.Read = read
		if err := u.Tx().Messages().Save(ctx, m); err != nil {
			return goerr.Wrap(err, "save message", goerr.V("id", id))
		}
		u.Notify(notify.TopicMessageSync, string(id))
		return nil
	})
}

func sameDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
