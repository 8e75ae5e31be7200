package domain

import "time"

// Message is a division message. Sender and Division are required once populated.
type Message struct {
	ID MessageID

	Content   *string
	Timestamp *time.Time

	// Read is tracked locally only.
	Read bool

	Sender   *UserID
	Division *DivisionID

	LastSynced *time.Time
}

func (m Message) SyncRequired() bool {
	return m.Content == nil || m.Timestamp == nil || m.Sender == nil || m.Division == nil
}
