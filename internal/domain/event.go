package domain

import (
	"sort"
	"time"
)

type EventResponse string

const (
	ResponseGoing   EventResponse = "GOING"
	ResponseMaybe   EventResponse = "MAYBE"
	ResponsePending EventResponse = "PENDING"
	ResponseDecline EventResponse = "DECLINE"
	ResponseRemoved EventResponse = "REMOVED"
)

func (r EventResponse) Valid() bool {
	switch r {
	case ResponseGoing, ResponseMaybe, ResponsePending, ResponseDecline, ResponseRemoved:
		return true
	}
	return false
}

type Location struct {
	Name string

	Latitude  *float64
	Longitude *float64
}

// Event is the local copy of a calendar event.
type Event struct {
	ID EventID

	Name        *string
	Description *string
	Start       *time.Time
	End         *time.Time
	Location    *Location

	InvitedDivisions []DivisionID

	// ReminderOffset overrides the global default reminder offset; nil means "use default".
	ReminderOffset *time.Duration

	// LastChanged is the server's change stamp, used to detect stale events in list syncs.
	LastChanged *time.Time
	LastSynced  *time.Time
}

func (e Event) SyncRequired() bool {
	return e.Name == nil || e.Start == nil || e.End == nil
}

// Attendance is the response of one user to one event. There is at most one
// record per (event, user) pair, so a user is in exactly one responder set.
type Attendance struct {
	EventID  EventID
	UserID   UserID
	Response EventResponse
}

// Responders is the per-kind index derived from an event's attendance records.
type Responders map[EventResponse][]UserID

// IndexResponders groups attendance records by response. User ids within a
// group are sorted for deterministic output.
func IndexResponders(as []Attendance) Responders {
	out := make(Responders)
	for _, a := range as {
		out[a.Response] = append(out[a.Response], a.UserID)
	}
	for k := range out {
		ids := out[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return out
}
