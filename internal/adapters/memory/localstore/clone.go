package localstore

import "github.com/Overland-East-Bay/club-sync/internal/domain"

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func cloneUser(u domain.User) domain.User {
	out := u
	out.FirstName = clonePtr(u.FirstName)
	out.LastName = clonePtr(u.LastName)
	out.Email = clonePtr(u.Email)
	out.Birthday = clonePtr(u.Birthday)
	out.Gender = clonePtr(u.Gender)
	out.MembershipStatus = clonePtr(u.MembershipStatus)
	if u.Address != nil {
		a := *u.Address
		a.Street = clonePtr(u.Address.Street)
		a.StreetNumber = clonePtr(u.Address.StreetNumber)
		a.ZipCode = clonePtr(u.Address.ZipCode)
		a.City = clonePtr(u.Address.City)
		a.Country = clonePtr(u.Address.Country)
		out.Address = &a
	}
	out.Avatar = cloneSlice(u.Avatar)
	out.Divisions = cloneSlice(u.Divisions)
	out.AdministeredDivisions = cloneSlice(u.AdministeredDivisions)
	out.LastSynced = clonePtr(u.LastSynced)
	return out
}

func cloneDivision(d domain.Division) domain.Division {
	out := d
	out.Name = clonePtr(d.Name)
	out.Description = clonePtr(d.Description)
	out.Admin = clonePtr(d.Admin)
	out.Parent = clonePtr(d.Parent)
	out.LatestMessage = clonePtr(d.LatestMessage)
	out.LatestMessageAt = clonePtr(d.LatestMessageAt)
	out.LastSynced = clonePtr(d.LastSynced)
	return out
}

func cloneEvent(e domain.Event) domain.Event {
	out := e
	out.Name = clonePtr(e.Name)
	out.Description = clonePtr(e.Description)
	out.Start = clonePtr(e.Start)
	out.End = clonePtr(e.End)
	if e.Location != nil {
		l := *e.Location
		l.Latitude = clonePtr(e.Location.Latitude)
		l.Longitude = clonePtr(e.Location.Longitude)
		out.Location = &l
	}
	out.InvitedDivisions = cloneSlice(e.InvitedDivisions)
	out.ReminderOffset = clonePtr(e.ReminderOffset)
	out.LastChanged = clonePtr(e.LastChanged)
	out.LastSynced = clonePtr(e.LastSynced)
	return out
}

func cloneMessage(m domain.Message) domain.Message {
	out := m
	out.Content = clonePtr(m.Content)
	out.Timestamp = clonePtr(m.Timestamp)
	out.Sender = clonePtr(m.Sender)
	out.Division = clonePtr(m.Division)
	out.LastSynced = clonePtr(m.LastSynced)
	return out
}
