package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Overland-East-Bay/club-sync/internal/adapters/contracttest"
	idempotencyport "github.com/Overland-East-Bay/club-sync/internal/ports/out/idempotency"
	localstoreport "github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "club.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return s
}

// openPostgres skips unless CLUBSYNC_TEST_DATABASE_URL points at a scratch database.
func openPostgres(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CLUBSYNC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLUBSYNC_TEST_DATABASE_URL not set")
	}
	s, err := OpenPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return s
}

func TestContract_SQLiteLocalStore(t *testing.T) {
	contracttest.RunLocalStore(t, func(t *testing.T) (localstoreport.Store, func()) {
		t.Helper()
		s := openSQLite(t)
		return s, func() { _ = s.Close() }
	})
}

func TestContract_SQLiteIdempotencyStore(t *testing.T) {
	s := openSQLite(t)
	t.Cleanup(func() { _ = s.Close() })
	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return s.Idempotency(), nil
	})
}

func TestContract_PostgresLocalStore(t *testing.T) {
	contracttest.RunLocalStore(t, func(t *testing.T) (localstoreport.Store, func()) {
		t.Helper()
		s := openPostgres(t)
		return s, func() { _ = s.Close() }
	})
}

func TestContract_PostgresIdempotencyStore(t *testing.T) {
	s := openPostgres(t)
	t.Cleanup(func() { _ = s.Close() })
	contracttest.RunIdempotencyStore(t, func(t *testing.T) (idempotencyport.Store, func()) {
		t.Helper()
		return s.Idempotency(), nil
	})
}
