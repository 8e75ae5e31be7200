package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
)

// Endpoint is the transport session bound to one backend.
type Endpoint interface {
	BaseURL() string
	Reset(baseURL string) error
}

// SecurityState caches the credential triple in memory and keeps it in step
// with the keychain. The transport endpoint always follows the credential
// domain.
type SecurityState struct {
	keychain keychain.Store
	endpoint Endpoint

	mu     sync.Mutex
	cached *keychain.Credentials
	loaded bool
}

func NewSecurityState(kc keychain.Store, endpoint Endpoint) *SecurityState {
	return &SecurityState{keychain: kc, endpoint: endpoint}
}

// Credentials returns the stored triple, or ErrNotLoggedIn when there is none.
func (s *SecurityState) Credentials(ctx context.Context) (keychain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return keychain.Credentials{}, err
	}
	if s.cached == nil || !s.cached.Complete() {
		return keychain.Credentials{}, goerr.Wrap(clubapi.ErrNotLoggedIn, "no credentials")
	}
	return *s.cached, nil
}

func (s *SecurityState) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	c, err := s.keychain.Load(ctx)
	switch {
	case errors.Is(err, keychain.ErrNoCredentials):
		s.cached = nil
	case errors.Is(err, keychain.ErrCorrupted):
		logging.From(ctx).Warn("discarding unreadable credentials", logging.ErrAttr(err))
		if err := s.keychain.Clear(ctx); err != nil {
			return goerr.Wrap(err, "clear corrupted credentials")
		}
		s.cached = nil
	case err != nil:
		return goerr.Wrap(err, "load credentials")
	default:
		s.cached = &c
		if err := s.followDomainLocked(ctx, c.Domain); err != nil {
			return err
		}
	}
	s.loaded = true
	return nil
}

// SetCredentials stores a new triple. A changed domain starts a new
// transport session; requests still running against the old one fail as
// cancelled.
func (s *SecurityState) SetCredentials(ctx context.Context, c keychain.Credentials) error {
	if !c.Complete() {
		return goerr.New("username, password and domain are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.keychain.Save(ctx, c); err != nil {
		return goerr.Wrap(err, "save credentials")
	}
	s.cached = &c
	s.loaded = true
	return s.followDomainLocked(ctx, c.Domain)
}

// SetDomain changes only the domain of the stored triple.
func (s *SecurityState) SetDomain(ctx context.Context, domain string) error {
	c, err := s.Credentials(ctx)
	if err != nil {
		return err
	}
	c.Domain = domain
	return s.SetCredentials(ctx, c)
}

// Clear forgets the stored triple and drops the transport session.
func (s *SecurityState) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.keychain.Clear(ctx); err != nil {
		return goerr.Wrap(err, "clear credentials")
	}
	s.cached = nil
	s.loaded = true
	if err := s.endpoint.Reset(s.endpoint.BaseURL()); err != nil {
		return goerr.Wrap(err, "reset transport session")
	}
	return nil
}

func (s *SecurityState) followDomainLocked(ctx context.Context, domain string) error {
	want := clubapi.BaseURL(domain)
	if want == "" || want == s.endpoint.BaseURL() {
		return nil
	}
	logging.From(ctx).Info("switching backend", slog.String("base_url", want))
	if err := s.endpoint.Reset(want); err != nil {
		return goerr.Wrap(err, "reset transport session", goerr.V("base_url", want))
	}
	return nil
}
