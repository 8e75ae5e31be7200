package domain

import "time"

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale:
		return true
	}
	return false
}

// Address is the postal address of a user. Every field is optional.
type Address struct {
	Street       *string
	StreetNumber *string
	ZipCode      *string
	City         *string
	Country      *string
}

// User is the local copy of a club user.
//
// Only ID is guaranteed; every other field stays unset until the first
// successful detail fetch.
type User struct {
	ID UserID

	FirstName *string
	LastName  *string
	Email     *string

	Birthday         *time.Time // date-only semantics
	Gender           *Gender
	MembershipStatus *string
	Address          *Address

	Avatar []byte

	Divisions             []DivisionID
	AdministeredDivisions []DivisionID

	LastSynced *time.Time
}

// SyncRequired reports whether a required display field is still unset.
func (u User) SyncRequired() bool {
	return u.FirstName == nil || u.LastName == nil || u.Email == nil
}

// DisplayName joins first and last name. It falls back to the id for stubs.
func (u User) DisplayName() string {
	if u.FirstName == nil && u.LastName == nil {
		return string(u.ID)
	}
	var first, last string
	if u.FirstName != nil {
		first = *u.FirstName
	}
	if u.LastName != nil {
		last = *u.LastName
	}
	return NormalizeHumanName(first + " " + last)
}
