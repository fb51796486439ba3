package auth

import (
	"context"
	"crypto"
	"fmt"
	"sync"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
)

// KeyStore resolves token verification keys by key ID. An empty kid is
// resolved only when the store holds exactly one key.
type KeyStore interface {
	PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// StaticKeyStore is a KeyStore backed by in-memory keys. It never touches
// the network, which makes it suitable for tests and offline verification.
type StaticKeyStore struct {
	mu   sync.RWMutex
	keys map[string]crypto.PublicKey
}

// NewStaticKeyStore creates a StaticKeyStore holding a single key.
func NewStaticKeyStore(kid string, key crypto.PublicKey) *StaticKeyStore {
	return &StaticKeyStore{keys: map[string]crypto.PublicKey{kid: key}}
}

// PublicKey returns the key registered under kid.
func (s *StaticKeyStore) PublicKey(_ context.Context, kid string) (crypto.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := lookupKey(s.keys, kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", domain.ErrUnknownKey, kid)
}

// Add registers another key, e.g. to simulate rotation.
func (s *StaticKeyStore) Add(kid string, key crypto.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = make(map[string]crypto.PublicKey)
	}
	s.keys[kid] = key
}

func lookupKey(keys map[string]crypto.PublicKey, kid string) (crypto.PublicKey, bool) {
	if key, ok := keys[kid]; ok {
		return key, true
	}
	if kid == "" && len(keys) == 1 {
		for _, key := range keys {
			return key, true
		}
	}
	return nil, false
}
