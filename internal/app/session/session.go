// Package session manages the authenticated backend session: credentials,
// login and logout, and flushing local data when the identity changes.
package session

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Overland-East-Bay/club-sync/internal/domain"
	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/clubapi"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/localstore"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

// Identity is what the backend reports about the logged-in session.
type Identity struct {
	UserID        domain.UserID
	SystemID      domain.SystemID
	SystemVersion string
}

type Config struct {
	Security *SecurityState
	// Transport must be the raw transport, not the orchestrator, so that a
	// login never parks behind itself.
	Transport clubapi.Transport
	Prefs     prefs.Store
	Store     localstore.Store
}

type Manager struct {
	security  *SecurityState
	transport clubapi.Transport
	prefs     prefs.Store
	store     localstore.Store
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		security:  cfg.Security,
		transport: cfg.Transport,
		prefs:     cfg.Prefs,
		store:     cfg.Store,
	}
}

func (m *Manager) Security() *SecurityState { return m.security }

// Relogin matches orchestrator.LoginFunc.
func (m *Manager) Relogin(ctx context.Context) error {
	_, err := m.Login(ctx)
	return err
}

// Login authenticates with the stored credentials. When the backend reports
// a different user or system than last time, every local entity and
// last-synced stamp is dropped before the new identity is stored.
func (m *Manager) Login(ctx context.Context) (Identity, error) {
	creds, err := m.security.Credentials(ctx)
	if err != nil {
		return Identity{}, err
	}

	resp, err := m.transport.Do(ctx, clubapi.Post(clubapi.PathLogin, url.Values{
		"username":   {creds.Username},
		"password":   {creds.Password},
		"rememberMe": {"true"},
	}))
	if err != nil {
		return Identity{}, goerr.Wrap(err, "login", goerr.V("username", creds.Username))
	}

	values := make(map[string]string, 3)
	for _, h := range []string{clubapi.HeaderUserID, clubapi.HeaderSystemID, clubapi.HeaderSystemVersion} {
		v := resp.Header.Get(h)
		if v == "" {
			return Identity{}, goerr.Wrap(clubapi.ErrResponseHeader, "login response", goerr.V("header", h))
		}
		values[h] = v
	}
	id := Identity{
		UserID:        domain.UserID(values[clubapi.HeaderUserID]),
		SystemID:      domain.SystemID(values[clubapi.HeaderSystemID]),
		SystemVersion: values[clubapi.HeaderSystemVersion],
	}

	if err := m.adoptIdentity(ctx, id); err != nil {
		return Identity{}, err
	}
	logging.From(ctx).Info("logged in",
		slog.String("user_id", string(id.UserID)),
		slog.String("system_id", string(id.SystemID)),
		slog.String("system_version", id.SystemVersion),
	)
	return id, nil
}

func (m *Manager) adoptIdentity(ctx context.Context, id Identity) error {
	prevUser, _, err := m.prefs.Get(ctx, prefs.KeyUserID)
	if err != nil {
		return goerr.Wrap(err, "read stored user id")
	}
	prevSystem, _, err := m.prefs.Get(ctx, prefs.KeySystemID)
	if err != nil {
		return goerr.Wrap(err, "read stored system id")
	}
	if prevUser == string(id.UserID) && prevSystem == string(id.SystemID) {
		return nil
	}

	logging.From(ctx).Info("identity changed, flushing local data",
		slog.String("previous_user_id", prevUser),
		slog.String("previous_system_id", prevSystem),
	)
	if err := m.store.Flush(ctx); err != nil {
		return goerr.Wrap(err, "flush local store")
	}
	for _, d := range prefs.SyncDomains {
		if err := m.prefs.Delete(ctx, prefs.LastSyncedKey(d)); err != nil {
			return goerr.Wrap(err, "clear last synced", goerr.V("domain", d))
		}
	}
	if err := m.prefs.Set(ctx, prefs.KeyUserID, string(id.UserID)); err != nil {
		return goerr.Wrap(err, "store user id")
	}
	if err := m.prefs.Set(ctx, prefs.KeySystemID, string(id.SystemID)); err != nil {
		return goerr.Wrap(err, "store system id")
	}
	return nil
}

// Logout forgets the credentials and the stored identity, so the next login
// starts from an empty local store.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.security.Clear(ctx); err != nil {
		return err
	}
	for _, k := range []string{prefs.KeyUserID, prefs.KeySystemID} {
		if err := m.prefs.Delete(ctx, k); err != nil {
			return goerr.Wrap(err, "clear identity", goerr.V("key", k))
		}
	}
	logging.From(ctx).Info("logged out")
	return nil
}

// UserID returns the id of the logged-in user, or ErrNotLoggedIn.
func (m *Manager) UserID(ctx context.Context) (domain.UserID, error) {
	v, ok, err := m.prefs.Get(ctx, prefs.KeyUserID)
	if err != nil {
		return "", goerr.Wrap(err, "read stored user id")
	}
	if !ok || v == "" {
		return "", goerr.Wrap(clubapi.ErrNotLoggedIn, "no user id stored")
	}
	return domain.UserID(v), nil
}
