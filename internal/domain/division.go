package domain

import "time"

// MembershipStatus is the current user's relation to a division.
type MembershipStatus string

const (
	MembershipMember       MembershipStatus = "MEMBER"
	MembershipFormerMember MembershipStatus = "FORMER_MEMBER"
	MembershipNoMember     MembershipStatus = "NO_MEMBER"
)

func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipMember, MembershipFormerMember, MembershipNoMember:
		return true
	}
	return false
}

// Division is the local copy of a club division.
type Division struct {
	ID DivisionID

	Name        *string
	Description *string

	Admin  *UserID
	Parent *DivisionID

	// MembershipStatus is never empty; stubs start as MembershipNoMember.
	MembershipStatus MembershipStatus

	// LatestMessage points at the newest message sent to this division.
	LatestMessage   *MessageID
	LatestMessageAt *time.Time

	LastSynced *time.Time
}

// NewDivisionStub returns a division holding only its id.
func NewDivisionStub(id DivisionID) Division {
	return Division{ID: id, MembershipStatus: MembershipNoMember}
}

func (d Division) SyncRequired() bool {
	return d.Name == nil
}

// IsNewerMessage reports whether a message at (ts, id) should replace the
// division's current latest message. Equal timestamps are ordered by id.
func (d Division) IsNewerMessage(id MessageID, ts time.Time) bool {
	if d.LatestMessage == nil || d.LatestMessageAt == nil {
		return true
	}
	if ts.Equal(*d.LatestMessageAt) {
		return id > *d.LatestMessage
	}
	return ts.After(*d.LatestMessageAt)
}
