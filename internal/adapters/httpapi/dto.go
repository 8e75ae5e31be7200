package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Overland-East-Bay/club-sync/internal/app/club"
	"github.com/Overland-East-Bay/club-sync/internal/domain"
)

type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type Division struct {
	DivisionId       string                       `json:"divisionId"`
	Name             nullable.Nullable[string]    `json:"name"`
	Description      nullable.Nullable[string]    `json:"description"`
	AdminUserId      nullable.Nullable[string]    `json:"adminUserId"`
	ParentId         nullable.Nullable[string]    `json:"parentId"`
	MembershipStatus string                       `json:"membershipStatus"`
	LatestMessageId  nullable.Nullable[string]    `json:"latestMessageId"`
	LatestMessageAt  nullable.Nullable[time.Time] `json:"latestMessageAt"`
	SyncRequired     bool                         `json:"syncRequired"`
}

type Message struct {
	MessageId    string                       `json:"messageId"`
	Content      nullable.Nullable[string]    `json:"content"`
	Timestamp    nullable.Nullable[time.Time] `json:"timestamp"`
	Read         bool                         `json:"read"`
	SenderId     nullable.Nullable[string]    `json:"senderId"`
	DivisionId   nullable.Nullable[string]    `json:"divisionId"`
	SyncRequired bool                         `json:"syncRequired"`
}

type InboxEntry struct {
	Division Division `json:"division"`
	Latest   *Message `json:"latest,omitempty"`
	Unread   int      `json:"unread"`
}

type Location struct {
	Name      string                     `json:"name"`
	Latitude  nullable.Nullable[float64] `json:"latitude"`
	Longitude nullable.Nullable[float64] `json:"longitude"`
}

type Event struct {
	EventId               string                       `json:"eventId"`
	Name                  nullable.Nullable[string]    `json:"name"`
	Description           nullable.Nullable[string]    `json:"description"`
	Start                 nullable.Nullable[time.Time] `json:"start"`
	End                   nullable.Nullable[time.Time] `json:"end"`
	Location              *Location                    `json:"location,omitempty"`
	InvitedDivisionIds    []string                     `json:"invitedDivisionIds"`
	ReminderOffsetMinutes nullable.Nullable[int]       `json:"reminderOffsetMinutes"`
	SyncRequired          bool                         `json:"syncRequired"`
}

type EventDetail struct {
	Event                 Event                     `json:"event"`
	Responders            map[string][]string       `json:"responders"`
	MyResponse            nullable.Nullable[string] `json:"myResponse"`
	ReminderOffsetMinutes int                       `json:"effectiveReminderOffsetMinutes"`
}

type Address struct {
	Street       nullable.Nullable[string] `json:"street"`
	StreetNumber nullable.Nullable[string] `json:"streetNumber"`
	ZipCode      nullable.Nullable[string] `json:"zipCode"`
	City         nullable.Nullable[string] `json:"city"`
	Country      nullable.Nullable[string] `json:"country"`
}

type User struct {
	UserId                  string                                 `json:"userId"`
	DisplayName             string                                 `json:"displayName"`
	FirstName               nullable.Nullable[string]              `json:"firstName"`
	LastName                nullable.Nullable[string]              `json:"lastName"`
	Email                   nullable.Nullable[openapi_types.Email] `json:"email"`
	Birthday                nullable.Nullable[openapi_types.Date]  `json:"birthday"`
	Gender                  nullable.Nullable[string]              `json:"gender"`
	Address                 *Address                               `json:"address,omitempty"`
	HasAvatar               bool                                   `json:"hasAvatar"`
	DivisionIds             []string                               `json:"divisionIds"`
	AdministeredDivisionIds []string                               `json:"administeredDivisionIds"`
	SyncRequired            bool                                   `json:"syncRequired"`
}

type SendMessageRequest struct {
	DivisionId string `json:"divisionId"`
	Content    string `json:"content"`
}

type SendMessageResponse struct {
	Message Message `json:"message"`
}

type UpdateMessageRequest struct {
	Read *bool `json:"read"`
}

// UpdateEventRequest carries tri-state fields: absent leaves the value
// alone, null clears it.
type UpdateEventRequest struct {
	ReminderOffsetMinutes nullable.Nullable[int] `json:"reminderOffsetMinutes"`
}

type RespondToEventRequest struct {
	Response string `json:"response"`
}

type SyncRequest struct {
	Scope string `json:"scope"`
}

type SyncResponse struct {
	Scope            string    `json:"scope"`
	AddedDivisions   []string  `json:"addedDivisionIds,omitempty"`
	RemovedDivisions []string  `json:"removedDivisionIds,omitempty"`
	Events           *ListSync `json:"events,omitempty"`
	Messages         *ListSync `json:"messages,omitempty"`
	Settled          bool      `json:"settled"`
}

type ListSync struct {
	Listed int `json:"listed"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

func nullableString(p *string) nullable.Nullable[string] {
	var out nullable.Nullable[string]
	if p == nil {
		out.SetNull()
		return out
	}
	out.Set(*p)
	return out
}

func nullableTime(p *time.Time) nullable.Nullable[time.Time] {
	var out nullable.Nullable[time.Time]
	if p == nil {
		out.SetNull()
		return out
	}
	out.Set(p.UTC())
	return out
}

func nullableDate(p *time.Time) nullable.Nullable[openapi_types.Date] {
	var out nullable.Nullable[openapi_types.Date]
	if p == nil {
		out.SetNull()
		return out
	}
	out.Set(openapi_types.Date{Time: p.UTC()})
	return out
}

func nullableID[T ~string](p *T) nullable.Nullable[string] {
	var out nullable.Nullable[string]
	if p == nil {
		out.SetNull()
		return out
	}
	out.Set(string(*p))
	return out
}

func nullableFloat(p *float64) nullable.Nullable[float64] {
	var out nullable.Nullable[float64]
	if p == nil {
		out.SetNull()
		return out
	}
	out.Set(*p)
	return out
}

func idStrings[T ~string](ids []T) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func divisionFromDomain(d domain.Division) Division {
	return Division{
		DivisionId:       string(d.ID),
		Name:             nullableString(d.Name),
		Description:      nullableString(d.Description),
		AdminUserId:      nullableID(d.Admin),
		ParentId:         nullableID(d.Parent),
		MembershipStatus: string(d.MembershipStatus),
		LatestMessageId:  nullableID(d.LatestMessage),
		LatestMessageAt:  nullableTime(d.LatestMessageAt),
		SyncRequired:     d.SyncRequired(),
	}
}

func messageFromDomain(m domain.Message) Message {
	return Message{
		MessageId:    string(m.ID),
		Content:      nullableString(m.Content),
		Timestamp:    nullableTime(m.Timestamp),
		Read:         m.Read,
		SenderId:     nullableID(m.Sender),
		DivisionId:   nullableID(m.Division),
		SyncRequired: m.SyncRequired(),
	}
}

func inboxEntryFromDomain(e club.InboxEntry) InboxEntry {
	out := InboxEntry{Division: divisionFromDomain(e.Division), Unread: e.Unread}
	if e.Latest != nil {
		m := messageFromDomain(*e.Latest)
		out.Latest = &m
	}
	return out
}

func eventFromDomain(e domain.Event) Event {
	out := Event{
		EventId:            string(e.ID),
		Name:               nullableString(e.Name),
		Description:        nullableString(e.Description),
		Start:              nullableTime(e.Start),
		End:                nullableTime(e.End),
		InvitedDivisionIds: idStrings(e.InvitedDivisions),
		SyncRequired:       e.SyncRequired(),
	}
	if e.Location != nil {
		out.Location = &Location{
			Name:      e.Location.Name,
			Latitude:  nullableFloat(e.Location.Latitude),
			Longitude: nullableFloat(e.Location.Longitude),
		}
	}
	if e.ReminderOffset != nil {
		out.ReminderOffsetMinutes.Set(int(*e.ReminderOffset / time.Minute))
	} else {
		out.ReminderOffsetMinutes.SetNull()
	}
	return out
}

func eventDetailFromDomain(d club.EventDetail) EventDetail {
	out := EventDetail{
		Event:                 eventFromDomain(d.Event),
		Responders:            make(map[string][]string, len(d.Responders)),
		ReminderOffsetMinutes: int(d.Reminder / time.Minute),
	}
	for r, ids := range d.Responders {
		out.Responders[string(r)] = idStrings(ids)
	}
	if d.MyResponse != nil {
		out.MyResponse.Set(string(*d.MyResponse))
	} else {
		out.MyResponse.SetNull()
	}
	return out
}

func userFromDomain(u domain.User) User {
	out := User{
		UserId:                  string(u.ID),
		DisplayName:             u.DisplayName(),
		FirstName:               nullableString(u.FirstName),
		LastName:                nullableString(u.LastName),
		Birthday:                nullableDate(u.Birthday),
		Gender:                  nullableID(u.Gender),
		HasAvatar:               len(u.Avatar) > 0,
		DivisionIds:             idStrings(u.Divisions),
		AdministeredDivisionIds: idStrings(u.AdministeredDivisions),
		SyncRequired:            u.SyncRequired(),
	}
	if u.Email != nil {
		out.Email.Set(openapi_types.Email(*u.Email))
	} else {
		out.Email.SetNull()
	}
	if a := u.Address; a != nil {
		out.Address = &Address{
			Street:       nullableString(a.Street),
			StreetNumber: nullableString(a.StreetNumber),
			ZipCode:      nullableString(a.ZipCode),
			City:         nullableString(a.City),
			Country:      nullableString(a.Country),
		}
	}
	return out
}
