package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/app/notify"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

func (s *Syncer) PopulateUser(ctx context.Context, id domain.UserID, payload json.RawMessage) error {
	return s.Populate(ctx, KindUser, string(id), payload)
}

func (s *Syncer) PopulateDivision(ctx context.Context, id domain.DivisionID, payload json.RawMessage) error {
	return s.Populate(ctx, KindDivision, string(id), payload)
}

func (s *Syncer) PopulateEvent(ctx context.Context, id domain.EventID, payload json.RawMessage) error {
	return s.Populate(ctx, KindEvent, string(id), payload)
}

func (s *Syncer) PopulateMessage(ctx context.Context, id domain.MessageID, payload json.RawMessage) error {
	return s.Populate(ctx, KindMessage, string(id), payload)
}

// loadOrStub returns the stored entity, inserting a stub first when missing.
func loadOrStub[T any](ctx context.Context, u *Unit, kind Kind, id string, get func() (T, error)) (T, error) {
	if _, err := u.ensure(ctx, kind, id); err != nil {
		var zero T
		return zero, err
	}
	return get()
}

func (s *Syncer) populateUser(ctx context.Context, u *Unit, id string, raw json.RawMessage) error {
	var p userPayload
	if err := decodeObject(raw, &p, string(KindUser)); err != nil {
		return err
	}
	firstName, err := requiredString(p.FirstName, "firstName")
	if err != nil {
		return err
	}
	lastName, err := requiredString(p.LastName, "lastName")
	if err != nil {
		return err
	}
	if p.Email == nil {
		return goerr.Wrap(ErrParse, "missing required field", goerr.V("field", "email"))
	}
	email := string(*p.Email)
	birthday, err := optionalTime(p.Birthday, s.loc, "birthday")
	if err != nil {
		return err
	}
	var gender *domain.Gender
	if p.Gender != nil {
		g := domain.Gender(strings.ToUpper(*p.Gender))
		if !g.Valid() {
			return goerr.Wrap(ErrParse, "unknown gender", goerr.V("gender", *p.Gender))
		}
		gender = &g
	}
	divisions, err := s.resolveSet(ctx, u, KindDivision, p.Divisions, "divisions")
	if err != nil {
		return err
	}
	administered, err := s.resolveSet(ctx, u, KindDivision, p.AdministeredDivisions, "administeredDivisions")
	if err != nil {
		return err
	}

	cur, err := loadOrStub(ctx, u, KindUser, id, func() (domain.User, error) {
		return u.tx.Users().Get(ctx, domain.UserID(id))
	})
	if err != nil {
		return err
	}

	next := cur
	next.FirstName = firstName
	next.LastName = lastName
	next.Email = &email
	next.Birthday = birthday
	next.Gender = gender
	next.MembershipStatus = p.MembershipStatus
	next.Address = nil
	if p.Street != nil || p.StreetNumber != nil || p.ZipCode != nil || p.City != nil || p.Country != nil {
		next.Address = &domain.Address{
			Street:       p.Street,
			StreetNumber: p.StreetNumber,
			ZipCode:      p.ZipCode,
			City:         p.City,
			Country:      p.Country,
		}
	}
	next.Divisions = divisionIDs(divisions)
	next.AdministeredDivisions = divisionIDs(administered)

	if userUnchanged(cur, next) {
		return nil
	}
	now := s.now()
	next.LastSynced = &now
	if err := u.tx.Users().Save(ctx, next); err != nil {
		return goerr.Wrap(err, "save user", goerr.V("id", id))
	}
	u.Notify(notify.TopicUserSync, id)
	return nil
}

func userUnchanged(a, b domain.User) bool {
	if !sameSet(a.Divisions, b.Divisions) || !sameSet(a.AdministeredDivisions, b.AdministeredDivisions) {
		return false
	}
	a.LastSynced, b.LastSynced = nil, nil
	a.Divisions, b.Divisions = nil, nil
	a.AdministeredDivisions, b.AdministeredDivisions = nil, nil
	return sameState(a, b)
}

func (s *Syncer) populateDivision(ctx context.Context, u *Unit, id string, raw json.RawMessage) error {
	var p divisionPayload
	if err := decodeObject(raw, &p, string(KindDivision)); err != nil {
		return err
	}
	name, err := requiredString(p.Name, "name")
	if err != nil {
		return err
	}
	admin, err := s.resolveOne(ctx, u, KindUser, p.AdminUser, "adminUser")
	if err != nil {
		return err
	}
	parent, err := s.resolveOne(ctx, u, KindDivision, p.Parent, "parent")
	if err != nil {
		return err
	}

	cur, err := loadOrStub(ctx, u, KindDivision, id, func() (domain.Division, error) {
		return u.tx.Divisions().Get(ctx, domain.DivisionID(id))
	})
	if err != nil {
		return err
	}

	next := cur
	next.Name = name
	next.Description = p.Description
	next.Admin = nil
	if admin != nil {
		a := domain.UserID(*admin)
		next.Admin = &a
	}
	next.Parent = nil
	if parent != nil {
		pd := domain.DivisionID(*parent)
		next.Parent = &pd
	}

	a, b := cur, next
	a.LastSynced, b.LastSynced = nil, nil
	if sameState(a, b) {
		return nil
	}
	now := s.now()
	next.LastSynced = &now
	if err := u.tx.Divisions().Save(ctx, next); err != nil {
		return goerr.Wrap(err, "save division", goerr.V("id", id))
	}
	u.Notify(notify.TopicDivisionSync, id)
	return nil
}

var responderFields = []struct {
	field    string
	response domain.EventResponse
	raw      func(p *eventPayload) json.RawMessage
}{
	{"goingUser", domain.ResponseGoing, func(p *eventPayload) json.RawMessage { return p.GoingUser }},
	{"maybeUser", domain.ResponseMaybe, func(p *eventPayload) json.RawMessage { return p.MaybeUser }},
	{"pendingUser", domain.ResponsePending, func(p *eventPayload) json.RawMessage { return p.PendingUser }},
	{"declinedUser", domain.ResponseDecline, func(p *eventPayload) json.RawMessage { return p.DeclinedUser }},
}

func (s *Syncer) populateEvent(ctx context.Context, u *Unit, id string, raw json.RawMessage) error {
	var p eventPayload
	if err := decodeObject(raw, &p, string(KindEvent)); err != nil {
		return err
	}
	name, err := requiredString(p.Name, "name")
	if err != nil {
		return err
	}
	start, err := requiredTime(p.StartDateTime, s.loc, "startDateTime")
	if err != nil {
		return err
	}
	end, err := requiredTime(p.EndDateTime, s.loc, "endDateTime")
	if err != nil {
		return err
	}
	lastChanged, err := optionalTime(p.LastChanged, s.loc, "lastChanged")
	if err != nil {
		return err
	}
	invited, err := s.resolveSet(ctx, u, KindDivision, p.InvitedDivision, "invitedDivision")
	if err != nil {
		return err
	}

	responses := make(map[domain.UserID]domain.EventResponse)
	for _, f := range responderFields {
		ids, err := s.resolveSet(ctx, u, KindUser, f.raw(&p), f.field)
		if err != nil {
			return err
		}
		for _, uid := range userIDs(ids) {
			if prev, dup := responses[uid]; dup {
				return goerr.Wrap(ErrParse, "user listed with two responses",
					goerr.V("user", uid), goerr.V("first", prev), goerr.V("second", f.response))
			}
			responses[uid] = f.response
		}
	}

	cur, err := loadOrStub(ctx, u, KindEvent, id, func() (domain.Event, error) {
		return u.tx.Events().Get(ctx, domain.EventID(id))
	})
	if err != nil {
		return err
	}

	next := cur
	next.Name = name
	next.Description = p.Description
	next.Start = start
	next.End = end
	next.Location = nil
	if p.Location != nil || p.LocationLat != nil || p.LocationLng != nil {
		loc := &domain.Location{Latitude: p.LocationLat, Longitude: p.LocationLng}
		if p.Location != nil {
			loc.Name = *p.Location
		}
		next.Location = loc
	}
	next.InvitedDivisions = divisionIDs(invited)
	next.LastChanged = lastChanged

	attendanceChanged, err := applyAttendance(ctx, u.tx, domain.EventID(id), responses)
	if err != nil {
		return err
	}

	a, b := cur, next
	a.LastSynced, b.LastSynced = nil, nil
	invitedSame := sameSet(a.InvitedDivisions, b.InvitedDivisions)
	a.InvitedDivisions, b.InvitedDivisions = nil, nil
	if invitedSame && !attendanceChanged && sameState(a, b) {
		return nil
	}
	now := s.now()
	next.LastSynced = &now
	if err := u.tx.Events().Save(ctx, next); err != nil {
		return goerr.Wrap(err, "save event", goerr.V("id", id))
	}
	u.Notify(notify.TopicCalendarSync, id)
	return nil
}

// applyAttendance makes the event's attendance records match responses.
func applyAttendance(ctx context.Context, tx localstore.Tx, eventID domain.EventID, responses map[domain.UserID]domain.EventResponse) (bool, error) {
	existing, err := tx.Attendance().ListByEvent(ctx, eventID)
	if err != nil {
		return false, goerr.Wrap(err, "list attendance", goerr.V("event", eventID))
	}
	changed := false
	for _, a := range existing {
		if _, keep := responses[a.UserID]; keep {
			continue
		}
		if err := tx.Attendance().Delete(ctx, eventID, a.UserID); err != nil {
			return false, goerr.Wrap(err, "delete attendance", goerr.V("event", eventID), goerr.V("user", a.UserID))
		}
		changed = true
	}
	current := make(map[domain.UserID]domain.EventResponse, len(existing))
	for _, a := range existing {
		current[a.UserID] = a.Response
	}
	for uid, resp := range responses {
		if current[uid] == resp {
			continue
		}
		if err := tx.Attendance().Upsert(ctx, domain.Attendance{EventID: eventID, UserID: uid, Response: resp}); err != nil {
			return false, goerr.Wrap(err, "upsert attendance", goerr.V("event", eventID), goerr.V("user", uid))
		}
		changed = true
	}
	return changed, nil
}

func (s *Syncer) populateMessage(ctx context.Context, u *Unit, id string, raw json.RawMessage) error {
	var p messagePayload
	if err := decodeObject(raw, &p, string(KindMessage)); err != nil {
		return err
	}
	content, err := requiredString(p.Content, "content")
	if err != nil {
		return err
	}
	ts, err := requiredTime(p.Timestamp, s.loc, "timestamp")
	if err != nil {
		return err
	}
	if isNull(p.Sender) {
		return goerr.Wrap(ErrParse, "missing required field", goerr.V("field", "sender"))
	}
	if isNull(p.Division) {
		return goerr.Wrap(ErrParse, "missing required field", goerr.V("field", "division"))
	}
	sender, err := s.resolveOne(ctx, u, KindUser, p.Sender, "sender")
	if err != nil {
		return err
	}
	division, err := s.resolveOne(ctx, u, KindDivision, p.Division, "division")
	if err != nil {
		return err
	}

	cur, err := loadOrStub(ctx, u, KindMessage, id, func() (domain.Message, error) {
		return u.tx.Messages().Get(ctx, domain.MessageID(id))
	})
	if err != nil {
		return err
	}

	next := cur
	next.Content = content
	next.Timestamp = ts
	senderID := domain.UserID(*sender)
	next.Sender = &senderID
	divisionID := domain.DivisionID(*division)
	next.Division = &divisionID

	a, b := cur, next
	a.LastSynced, b.LastSynced = nil, nil
	messageChanged := !sameState(a, b)
	if messageChanged {
		now := s.now()
		next.LastSynced = &now
		if err := u.tx.Messages().Save(ctx, next); err != nil {
			return goerr.Wrap(err, "save message", goerr.V("id", id))
		}
	}
	latestChanged, err := updateLatestMessage(ctx, u.tx, divisionID, next.ID, *ts)
	if err != nil {
		return err
	}
	if cur.Division != nil && *cur.Division != divisionID {
		retracted, err := retractLatestMessage(ctx, u.tx, *cur.Division, next.ID)
		if err != nil {
			return err
		}
		latestChanged = latestChanged || retracted
	}
	if messageChanged || latestChanged {
		u.Notify(notify.TopicMessageSync, id)
	}
	return nil
}

// updateLatestMessage keeps the division's latest message pointing at its
// newest message. The message must already be saved.
func updateLatestMessage(ctx context.Context, tx localstore.Tx, divisionID domain.DivisionID, id domain.MessageID, ts time.Time) (bool, error) {
	d, err := tx.Divisions().Get(ctx, divisionID)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return false, &EntityError{Kind: KindDivision, ID: string(divisionID), Err: err}
		}
		return false, goerr.Wrap(err, "load division", goerr.V("id", divisionID))
	}
	if d.LatestMessage != nil && *d.LatestMessage == id {
		if d.LatestMessageAt != nil && d.LatestMessageAt.Equal(ts) {
			return false, nil
		}
		// The latest message moved in time; pick the newest again.
		newest, err := tx.Messages().ListByDivision(ctx, divisionID, 1)
		if err != nil {
			return false, goerr.Wrap(err, "list division messages", goerr.V("id", divisionID))
		}
		if len(newest) == 0 || newest[0].Timestamp == nil {
			return false, nil
		}
		d.LatestMessage = &newest[0].ID
		d.LatestMessageAt = newest[0].Timestamp
		if err := tx.Divisions().Save(ctx, d); err != nil {
			return false, goerr.Wrap(err, "save division latest message", goerr.V("id", divisionID))
		}
		return true, nil
	}
	if !d.IsNewerMessage(id, ts) {
		return false, nil
	}
	d.LatestMessage = &id
	d.LatestMessageAt = &ts
	if err := tx.Divisions().Save(ctx, d); err != nil {
		return false, goerr.Wrap(err, "save division latest message", goerr.V("id", divisionID))
	}
	return true, nil
}

// retractLatestMessage points divisionID at its newest remaining message when
// id, which no longer belongs to it, was its latest.
func retractLatestMessage(ctx context.Context, tx localstore.Tx, divisionID domain.DivisionID, id domain.MessageID) (bool, error) {
	d, err := tx.Divisions().Get(ctx, divisionID)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return false, nil
		}
		return false, goerr.Wrap(err, "load division", goerr.V("id", divisionID))
	}
	if d.LatestMessage == nil || *d.LatestMessage != id {
		return false, nil
	}
	newest, err := tx.Messages().ListByDivision(ctx, divisionID, 1)
	if err != nil {
		return false, goerr.Wrap(err, "list division messages", goerr.V("id", divisionID))
	}
	d.LatestMessage, d.LatestMessageAt = nil, nil
	if len(newest) > 0 && newest[0].Timestamp != nil {
		d.LatestMessage = &newest[0].ID
		d.LatestMessageAt = newest[0].Timestamp
	}
	if err := tx.Divisions().Save(ctx, d); err != nil {
		return false, goerr.Wrap(err, "save division latest message", goerr.V("id", divisionID))
	}
	return true, nil
}
