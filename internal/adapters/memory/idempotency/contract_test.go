package idempotency

import (
	"testing"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/contracttest"
	idempotencyport "github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
)

func TestContract_IdempotencyStore(t *testing.T) {
	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
