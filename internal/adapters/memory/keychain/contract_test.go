package keychain

import (
	"testing"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/contracttest"
	keychainport "github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
)

func TestContract_KeychainStore(t *testing.T) {
	contracttest.RunKeychainStore(t, func(t *testing.T) (keychainport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
