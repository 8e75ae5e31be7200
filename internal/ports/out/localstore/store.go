package localstore

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
)

// Store is the persisted local cache of server entities.
//
// Reads and writes go through transactions. Update commits atomically: if fn
// returns an error nothing it wrote is visible afterwards. Entities returned
// from a Tx are copies; mutating them has no effect until saved.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Flush removes every entity. It is used when the authenticated user or
	// backend system identity changes.
	Flush(ctx context.Context) error

	Close() error
}

// Tx groups the per-entity repositories bound to one transaction.
type Tx interface {
	Users() UserRepository
	Divisions() DivisionRepository
	Events() EventRepository
	Messages() MessageRepository
	Attendance() AttendanceRepository
}

type UserRepository interface {
	Get(ctx context.Context, id domain.UserID) (domain.User, error)
	Insert(ctx context.Context, u domain.User) error
	Save(ctx context.Context, u domain.User) error
	// List returns users ordered by id.
	List(ctx context.Context) ([]domain.User, error)
}

// DivisionFilter selects divisions. A nil field matches everything.
type DivisionFilter struct {
	Status *domain.MembershipStatus
}

type DivisionRepository interface {
	Get(ctx context.Context, id domain.DivisionID) (domain.Division, error)
	Insert(ctx context.Context, d domain.Division) error
	Save(ctx context.Context, d domain.Division) error
	// List returns matching divisions ordered by id.
	List(ctx context.Context, f DivisionFilter) ([]domain.Division, error)
}

// EventFilter selects events overlapping [From, To). Nil bounds are open.
// Events without a start time only match an unbounded filter.
type EventFilter struct {
	From *time.Time
	To   *time.Time
}

type EventRepository interface {
	Get(ctx context.Context, id domain.EventID) (domain.Event, error)
	Insert(ctx context.Context, e domain.Event) error
	Save(ctx context.Context, e domain.Event) error
	// List returns matching events ordered by start time, then id.
	List(ctx context.Context, f EventFilter) ([]domain.Event, error)
}

type MessageRepository interface {
	Get(ctx context.Context, id domain.MessageID) (domain.Message, error)
	Insert(ctx context.Context, m domain.Message) error
	Save(ctx context.Context, m domain.Message) error
	// ListByDivision returns the newest messages of a division, newest first.
	// limit <= 0 means no limit.
	ListByDivision(ctx context.Context, id domain.DivisionID, limit int) ([]domain.Message, error)
}

type AttendanceRepository interface {
	Get(ctx context.Context, eventID domain.EventID, userID domain.UserID) (domain.Attendance, error)
	// Upsert writes the response for (event, user) with last-write-wins semantics.
	Upsert(ctx context.Context, a domain.Attendance) error
	Delete(ctx context.Context, eventID domain.EventID, userID domain.UserID) error
	// ListByEvent returns the event's records ordered by user id.
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]domain.Attendance, error)
}
