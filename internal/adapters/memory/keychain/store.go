package keychain

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
)

// Store keeps credentials in process memory. It is used by tests and the
// one-shot CLI commands that receive credentials from flags.
type Store struct {
	mu    sync.RWMutex
	creds *keychain.Credentials
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (keychain.Credentials, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return keychain.Credentials{}, keychain.ErrNoCredentials
	}
	return *s.creds, nil
}

func (s *Store) Save(ctx context.Context, c keychain.Credentials) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &c
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
