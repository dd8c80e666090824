package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/99designs/keyring"
	"github.com/lorrc/service-desk-realtime/internal/config"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// KeyringStore keeps the token in the operating system keyring, or in an
// encrypted file when no keyring service is available.
type KeyringStore struct {
	ring    keyring.Keyring
	account string
}

var _ ports.CredentialStore = (*KeyringStore)(nil)

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring, account string) *KeyringStore {
	if account == "" {
		account = "default"
	}
	return &KeyringStore{ring: ring, account: account}
}

// OpenKeyring opens the keyring described by cfg. The file backend is used
// alone when cfg.Backend is "file".
func OpenKeyring(cfg config.CredentialConfig) (keyring.Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.Backend == "file" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	fileDir := cfg.FileDir
	if fileDir == "" {
		fileDir = "~/.config/" + cfg.ServiceName + "/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.ServiceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Load returns the stored token, or ErrNoCredential.
func (s *KeyringStore) Load(_ context.Context) (string, error) {
	item, err := s.ring.Get(s.account)
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "", apperrors.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", s.account, err)
	}
	if len(item.Data) == 0 {
		return "", apperrors.ErrNoCredential
	}
	return string(item.Data), nil
}

// Save stores token, replacing any previous one.
func (s *KeyringStore) Save(_ context.Context, token string) error {
	err := s.ring.Set(keyring.Item{
		Key:         s.account,
		Data:        []byte(token),
		Label:       "deskwatch realtime token",
		Description: "bearer token for the help desk event stream",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", s.account, err)
	}
	return nil
}

// Clear removes the token. Clearing an empty store is not an error.
func (s *KeyringStore) Clear(_ context.Context) error {
	err := s.ring.Remove(s.account)
	// the file backend reports a missing key as a missing file
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting credential %q: %w", s.account, err)
	}
	return nil
}
