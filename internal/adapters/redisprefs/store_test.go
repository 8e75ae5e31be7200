package redisprefs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/contracttest"
	prefsport "github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), "redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestContract_RedisPrefsStore(t *testing.T) {
	contracttest.RunPrefsStore(t, func(t *testing.T) (prefsport.Store, func()) {
		t.Helper()
		s, _ := setupTestRedis(t)
		return s, nil
	})
}

func TestStore_UsesPrefix(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.Set(ctx, prefsport.KeySystemID, "sys-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := mr.Get(DefaultPrefix + prefsport.KeySystemID)
	if err != nil {
		t.Fatalf("miniredis Get: %v", err)
	}
	if got != "sys-1" {
		t.Fatalf("stored value=%q, want sys-1", got)
	}
	if mr.Exists(prefsport.KeySystemID) {
		t.Fatalf("unprefixed key written")
	}
}

func TestOpen_InvalidURL(t *testing.T) {
	if _, err := Open(context.Background(), "not a url", ""); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
