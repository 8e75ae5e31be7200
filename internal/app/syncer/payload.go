package syncer

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oapi-codegen/runtime/types"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
)

// Ref is one element of a reference payload: a bare id, or an object with an
// id. Fields holds the whole object when there was one.
type Ref struct {
	ID     string
	Fields json.RawMessage
}

// Has reports whether the object form carried a non-null key.
func (r Ref) Has(key string) bool {
	return !isNull(r.Field(key))
}

// Field returns the raw value of key in the object form, or nil.
func (r Ref) Field(key string) json.RawMessage {
	if len(r.Fields) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(r.Fields, &m); err != nil {
		return nil
	}
	return m[key]
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// ParseRefs accepts a bare id, an object with an id, or a list of either.
// Any malformed element fails the whole payload.
func ParseRefs(raw json.RawMessage) ([]Ref, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return nil, goerr.Wrap(ErrParse, "empty reference payload")
	}
	if t[0] != '[' {
		r, err := parseRef(t)
		if err != nil {
			return nil, err
		}
		return []Ref{r}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(t, &items); err != nil {
		return nil, goerr.Wrap(ErrParse, "malformed reference list", goerr.V("cause", err.Error()))
	}
	out := make([]Ref, 0, len(items))
	for i, item := range items {
		r, err := parseRef(item)
		if err != nil {
			return nil, goerr.Wrap(err, "malformed reference list element", goerr.V("index", i))
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRef(raw json.RawMessage) (Ref, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return Ref{}, goerr.Wrap(ErrParse, "empty reference")
	}
	switch t[0] {
	case '"':
		var id string
		if err := json.Unmarshal(t, &id); err != nil {
			return Ref{}, goerr.Wrap(ErrParse, "malformed id", goerr.V("cause", err.Error()))
		}
		if id == "" {
			return Ref{}, goerr.Wrap(ErrParse, "empty id")
		}
		return Ref{ID: id}, nil
	case '{':
		var obj struct {
			ID *string `json:"id"`
		}
		if err := json.Unmarshal(t, &obj); err != nil {
			return Ref{}, goerr.Wrap(ErrParse, "malformed reference object", goerr.V("cause", err.Error()))
		}
		if obj.ID == nil || *obj.ID == "" {
			return Ref{}, goerr.Wrap(ErrParse, "reference object without id")
		}
		return Ref{ID: *obj.ID, Fields: append(json.RawMessage(nil), t...)}, nil
	}
	return Ref{}, goerr.Wrap(ErrParse, "reference must be an id or an object", goerr.V("payload", string(t)))
}

// serverTime is the backend's structured date/time record. Date-only values
// carry no hour.
type serverTime struct {
	DayOfMonth *int `json:"dayOfMonth"`
	MonthValue *int `json:"monthValue"`
	Year       *int `json:"year"`
	Hour       *int `json:"hour"`
	Minute     *int `json:"minute"`
	Second     *int `json:"second"`
	Nano       *int `json:"nano"`
}

const dateLayout = "2006-01-02"

// ParseServerTime decodes a server date/time in loc and returns it in UTC.
// ok is false for null or absent values. Date-only values are returned as
// UTC midnight of that date.
func ParseServerTime(raw json.RawMessage, loc *time.Location) (t time.Time, dateOnly, ok bool, err error) {
	if isNull(raw) {
		return time.Time{}, false, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return time.Time{}, false, false, goerr.Wrap(ErrParse, "malformed date string", goerr.V("cause", err.Error()))
		}
		if v, err := time.ParseInLocation(clubapi.DateTimeLayout, s, loc); err == nil {
			return v.UTC(), false, true, nil
		}
		if v, err := time.Parse(dateLayout, s); err == nil {
			return v, true, true, nil
		}
		return time.Time{}, false, false, goerr.Wrap(ErrParse, "unrecognized date string", goerr.V("value", s))
	}

	var st serverTime
	if err := json.Unmarshal(trimmed, &st); err != nil {
		return time.Time{}, false, false, goerr.Wrap(ErrParse, "malformed date object", goerr.V("cause", err.Error()))
	}
	if st.DayOfMonth == nil || st.MonthValue == nil || st.Year == nil {
		return time.Time{}, false, false, goerr.Wrap(ErrParse, "date object without day, month or year")
	}
	if *st.MonthValue < 1 || *st.MonthValue > 12 || *st.DayOfMonth < 1 || *st.DayOfMonth > 31 {
		return time.Time{}, false, false, goerr.Wrap(ErrParse, "date out of range",
			goerr.V("month", *st.MonthValue), goerr.V("day", *st.DayOfMonth))
	}
	if st.Hour == nil {
		v := time.Date(*st.Year, time.Month(*st.MonthValue), *st.DayOfMonth, 0, 0, 0, 0, time.UTC)
		if err := checkNotNormalized(v, st); err != nil {
			return time.Time{}, false, false, err
		}
		return v, true, true, nil
	}
	v := time.Date(*st.Year, time.Month(*st.MonthValue), *st.DayOfMonth,
		*st.Hour, deref(st.Minute), deref(st.Second), deref(st.Nano), loc)
	if err := checkNotNormalized(v, st); err != nil {
		return time.Time{}, false, false, err
	}
	return v.UTC(), false, true, nil
}

// checkNotNormalized rejects values time.Date rolled into another day, such
// as February 31st or hour 24.
func checkNotNormalized(v time.Time, st serverTime) error {
	if v.Year() != *st.Year || int(v.Month()) != *st.MonthValue || v.Day() != *st.DayOfMonth {
		return goerr.Wrap(ErrParse, "date out of range",
			goerr.V("year", *st.Year), goerr.V("month", *st.MonthValue), goerr.V("day", *st.DayOfMonth))
	}
	return nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func optionalTime(raw json.RawMessage, loc *time.Location, field string) (*time.Time, error) {
	t, _, ok, err := ParseServerTime(raw, loc)
	if err != nil {
		return nil, goerr.Wrap(err, "parse time field", goerr.V("field", field))
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func requiredTime(raw json.RawMessage, loc *time.Location, field string) (*time.Time, error) {
	t, err := optionalTime(raw, loc, field)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, goerr.Wrap(ErrParse, "missing required field", goerr.V("field", field))
	}
	return t, nil
}

func requiredString(p *string, field string) (*string, error) {
	if p == nil {
		return nil, goerr.Wrap(ErrParse, "missing required field", goerr.V("field", field))
	}
	return p, nil
}

func decodeObject(raw []byte, into any, what string) error {
	if isNull(raw) {
		return goerr.Wrap(clubapi.ErrEmptyResponse, "empty detail payload", goerr.V("kind", what))
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return goerr.Wrap(ErrParse, "malformed detail payload", goerr.V("kind", what), goerr.V("cause", err.Error()))
	}
	return nil
}

type userPayload struct {
	FirstName             *string         `json:"firstName"`
	LastName              *string         `json:"lastName"`
	Email                 *types.Email    `json:"email"`
	Birthday              json.RawMessage `json:"birthday"`
	Gender                *string         `json:"gender"`
	MembershipStatus      *string         `json:"membershipStatus"`
	Street                *string         `json:"street"`
	StreetNumber          *string         `json:"streetNumber"`
	ZipCode               *string         `json:"zipCode"`
	City                  *string         `json:"city"`
	Country               *string         `json:"country"`
	Divisions             json.RawMessage `json:"divisions"`
	AdministeredDivisions json.RawMessage `json:"administeredDivisions"`
}

type divisionPayload struct {
	Name        *string         `json:"name"`
	Description *string         `json:"desc"`
	AdminUser   json.RawMessage `json:"adminUser"`
	Parent      json.RawMessage `json:"parent"`
}

type eventPayload struct {
	Name            *string         `json:"name"`
	Description     *string         `json:"description"`
	StartDateTime   json.RawMessage `json:"startDateTime"`
	EndDateTime     json.RawMessage `json:"endDateTime"`
	Location        *string         `json:"location"`
	LocationLat     *float64        `json:"locationLat"`
	LocationLng     *float64        `json:"locationLng"`
	InvitedDivision json.RawMessage `json:"invitedDivision"`
	LastChanged     json.RawMessage `json:"lastChanged"`
	GoingUser       json.RawMessage `json:"goingUser"`
	MaybeUser       json.RawMessage `json:"maybeUser"`
	PendingUser     json.RawMessage `json:"pendingUser"`
	DeclinedUser    json.RawMessage `json:"declinedUser"`
}

type messagePayload struct {
	Content   *string         `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
	Sender    json.RawMessage `json:"sender"`
	Division  json.RawMessage `json:"division"`
}
