package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/config"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// MemoryStore holds the token for the life of the process. It backs the
// env backend, where the token comes from DESKWATCH_TOKEN.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

var _ ports.CredentialStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding token, which may be empty.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", apperrors.ErrNoCredential
	}
	return s.token, nil
}

func (s *MemoryStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// New builds the store selected by cfg. A token given in the environment
// always wins over the configured backend.
func New(cfg config.CredentialConfig) (ports.CredentialStore, error) {
	if cfg.Token != "" || cfg.Backend == "env" {
		return NewMemoryStore(cfg.Token), nil
	}

	switch cfg.Backend {
	case "keyring", "file":
		ring, err := OpenKeyring(cfg)
		if err != nil {
			return nil, err
		}
		return NewKeyringStore(ring, cfg.Account), nil
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.Backend)
	}
}
