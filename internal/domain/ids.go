package domain

// UserID is the server-assigned identifier of a club user. It never changes once set.
type UserID string

// DivisionID is the server-assigned identifier of a division (a club sub-group and message channel).
type DivisionID string

// EventID is the server-assigned identifier of a calendar event.
type EventID string

// MessageID is the server-assigned identifier of a division message.
type MessageID string

// SystemID identifies the backend installation the client is paired with.
// A change of system identity invalidates every locally cached entity.
type SystemID string
