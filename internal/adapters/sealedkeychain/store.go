// Package sealedkeychain keeps login credentials encrypted at rest inside a
// prefs store. The sealing key is derived from a passphrase with scrypt and
// the payload is sealed with NaCl secretbox.
package sealedkeychain

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/Overland-East-Bay/club-sync/internal/ports/out/keychain"
	"github.com/Overland-East-Bay/club-sync/internal/ports/out/prefs"
)

// PrefsKey is the prefs entry holding the sealed credentials.
const PrefsKey = "keychain.credentials"

const (
	saltLen  = 16
	nonceLen = 24
	keyLen   = 32

	defaultScryptN = 1 << 15
)

type sealedPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

// Store implements keychain.Store.
type Store struct {
	prefs      prefs.Store
	passphrase []byte
	scryptN    int
	rand       io.Reader

	mu   sync.Mutex
	keys map[string]*[keyLen]byte // derived keys by salt
}

type Option func(*Store)

// WithScryptCost overrides the scrypt CPU/memory cost (N). Tests use a small value.
func WithScryptCost(n int) Option {
	return func(s *Store) { s.scryptN = n }
}

func WithRandom(r io.Reader) Option {
	return func(s *Store) { s.rand = r }
}

func New(p prefs.Store, passphrase string, opts ...Option) (*Store, error) {
	if passphrase == "" {
		return nil, goerr.New("keychain passphrase is required")
	}
	s := &Store{
		prefs:      p,
		passphrase: []byte(passphrase),
		scryptN:    defaultScryptN,
		rand:       rand.Reader,
		keys:       make(map[string]*[keyLen]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) deriveKey(salt []byte) (*[keyLen]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[string(salt)]; ok {
		return k, nil
	}
	raw, err := scrypt.Key(s.passphrase, salt, s.scryptN, 8, 1, keyLen)
	if err != nil {
		return nil, goerr.Wrap(err, "derive sealing key")
	}
	var k [keyLen]byte
	copy(k[:], raw)
	s.keys[string(salt)] = &k
	return &k, nil
}

func (s *Store) Load(ctx context.Context) (keychain.Credentials, error) {
	enc, ok, err := s.prefs.Get(ctx, PrefsKey)
	if err != nil {
		return keychain.Credentials{}, goerr.Wrap(err, "read sealed credentials")
	}
	if !ok {
		return keychain.Credentials{}, keychain.ErrNoCredentials
	}
	blob, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || len(blob) < saltLen+nonceLen+secretbox.Overhead {
		return keychain.Credentials{}, keychain.ErrCorrupted
	}
	salt := blob[:saltLen]
	var nonce [nonceLen]byte
	copy(nonce[:], blob[saltLen:saltLen+nonceLen])

	key, err := s.deriveKey(salt)
	if err != nil {
		return keychain.Credentials{}, err
	}
	plain, ok := secretbox.Open(nil, blob[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return keychain.Credentials{}, keychain.ErrCorrupted
	}
	var p sealedPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return keychain.Credentials{}, keychain.ErrCorrupted
	}
	return keychain.Credentials{Username: p.Username, Password: p.Password, Domain: p.Domain}, nil
}

func (s *Store) Save(ctx context.Context, c keychain.Credentials) error {
	plain, err := json.Marshal(sealedPayload{Username: c.Username, Password: c.Password, Domain: c.Domain})
	if err != nil {
		return goerr.Wrap(err, "encode credentials")
	}
	head := make([]byte, saltLen+nonceLen)
	if _, err := io.ReadFull(s.rand, head); err != nil {
		return goerr.Wrap(err, "generate salt and nonce")
	}
	key, err := s.deriveKey(head[:saltLen])
	if err != nil {
		return err
	}
	var nonce [nonceLen]byte
	copy(nonce[:], head[saltLen:])
	sealed := secretbox.Seal(head, plain, &nonce, key)

	if err := s.prefs.Set(ctx, PrefsKey, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		return goerr.Wrap(err, "write sealed credentials")
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.prefs.Delete(ctx, PrefsKey); err != nil {
		return goerr.Wrap(err, "clear sealed credentials")
	}
	return nil
}
