package keychain

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrNoCredentials indicates nothing is stored yet.
	ErrNoCredentials = errors.New("no credentials stored")

	// ErrCorrupted indicates stored credentials could not be decoded or authenticated.
	ErrCorrupted = errors.New("stored credentials corrupted")
)

// Credentials is the login triple. Domain is the backend host the client talks to.
type Credentials struct {
	Username string
	Password string
	Domain   string
}

func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != "" && c.Domain != ""
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Int("password.len", len(c.Password)),
		slog.String("domain", c.Domain),
	)
}

// Store is the secure credential store.
type Store interface {
	// Load returns ErrNoCredentials when nothing is stored.
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	// Clear is a no-op when nothing is stored.
	Clear(ctx context.Context) error
}
