package localstore

import (
	"testing"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/contracttest"
	localstoreport "github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

func TestContract_LocalStore(t *testing.T) {
	contracttest.RunLocalStore(t, func(t *testing.T) (localstoreport.Store, func()) {
		t.Helper()
		s := NewStore()
		return s, func() { _ = s.Close() }
	})
}
