package clock

import "time"

// Clock provides the current time to the sync core: sync stamps, event sync
// throttling and idempotency records.
type Clock interface {
	Now() time.Time
}
