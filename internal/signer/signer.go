// Package signer issues gateway API key/secret pairs and verifies request
// signatures.
//
// Signatures are HMAC-SHA256 over `timestamp + "." + payload` under the
// key's secret, compared in constant time. Keys and secrets are opaque
// random strings of fixed length; the signer never interprets their
// contents.
package signer

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/mugisham37/cms-gateway/internal/observability"
)

// Key and secret sizes in bytes before hex encoding.
const (
	keyBytes    = 16
	secretBytes = 32
)

// Common signer errors.
var (
	// ErrKeyNotFound indicates the key is unknown or revoked.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKey is a gateway-issued key/secret pair.
type APIKey struct {
	Key       string    `json:"key"`
	Secret    string    `json:"secret"`
	Name      string    `json:"name"`
	TenantID  string    `json:"tenantId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SecretStore abstracts API key persistence. The gateway keeps an
// in-memory mirror; durable storage is external.
type SecretStore interface {
	// Save persists a generated key.
	Save(ctx context.Context, key *APIKey) error

	// Secret returns the secret for a key, or ErrKeyNotFound.
	Secret(ctx context.Context, key string) (string, error)

	// Delete removes a key. Deleting an unknown key returns ErrKeyNotFound.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory SecretStore.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewMemoryStore creates an empty in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

// Save persists a generated key.
func (s *MemoryStore) Save(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Key] = key
	return nil
}

// Secret returns the secret for a key.
func (s *MemoryStore) Secret(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return k.Secret, nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, key)
	return nil
}

// Signer generates key pairs and verifies request signatures.
type Signer struct {
	store  SecretStore
	logger observability.Logger
}

// NewSigner creates a signer backed by the given store.
func NewSigner(store SecretStore, logger observability.Logger) *Signer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Signer{store: store, logger: logger}
}

// Generate creates and persists a new key/secret pair.
func (s *Signer) Generate(ctx context.Context, name, tenantID string) (*APIKey, error) {
	key, err := randomHex(keyBytes)
	if err != nil {
		return nil, err
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, err
	}

	apiKey := &APIKey{
		Key:       key,
		Secret:    secret,
		Name:      name,
		TenantID:  tenantID,
		CreatedAt: time.Now(),
	}
	if err := s.store.Save(ctx, apiKey); err != nil {
		return nil, err
	}

	s.logger.Info("api key generated",
		observability.String("name", name),
		observability.String("key", key))

	return apiKey, nil
}

// Verify recomputes the expected signature for the key's secret and
// compares it to the supplied one in constant time. An unknown key returns
// ErrKeyNotFound; a wrong signature returns false with no error.
func (s *Signer) Verify(ctx context.Context, key, signature, timestamp, payload string) (bool, error) {
	secret, err := s.store.Secret(ctx, key)
	if err != nil {
		return false, err
	}

	expected := Sign(secret, timestamp, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1, nil
}

// Revoke removes a key so subsequent verifications fail.
func (s *Signer) Revoke(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("api key revoked", observability.String("key", key))
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of timestamp + "." + payload
// under the given secret.
func Sign(secret, timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
