package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// APIKeyHeader carries the raw API key on requests.
const APIKeyHeader = "X-API-Key"

var (
	// ErrKeyNotFound indicates the requested API key does not exist in the store.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyRevoked indicates the API key has been revoked and can no longer be used.
	ErrKeyRevoked = errors.New("api key revoked")

	// ErrKeyExpired indicates the API key has passed its expiration time.
	ErrKeyExpired = errors.New("api key expired")

	// ErrInvalidKey indicates the provided raw key does not match any stored hash.
	ErrInvalidKey = errors.New("invalid api key")
)

const (
	// apiKeyPrefix is prepended to every generated key for easy
	// identification in logs and configuration files.
	apiKeyPrefix = "deid_k1_"

	// apiKeyRandomBytes is the number of random bytes behind each key
	// (encoded as hex => 32 hex chars).
	apiKeyRandomBytes = 16
)

// APIKey is a managed credential for programmatic access. The raw key
// material is never stored; only a SHA-256 hash is kept.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"` // never serialize
	KeyPrefix string     `json:"key_prefix"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// APIKeyManager owns the key lifecycle: generation, validation, listing,
// revocation. Backed by an in-memory map; suitable for single-node
// deployments and tests.
type APIKeyManager struct {
	mu     sync.RWMutex
	byID   map[string]*APIKey
	byHash map[string]string // hash -> ID
	order  []string          // insertion order for stable listings
}

// NewAPIKeyManager creates an empty manager.
func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		byID:   make(map[string]*APIKey),
		byHash: make(map[string]string),
	}
}

// Generate creates a key with the given name and role and returns the
// stored record plus the raw key string. The raw key is only available
// here and must be shown to the caller exactly once.
func (m *APIKeyManager) Generate(name, role string, expiresAt *time.Time) (*APIKey, string, error) {
	raw, err := NewRawKey()
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   hashKey(raw),
		KeyPrefix: raw[:len(apiKeyPrefix)+4],
		Role:      role,
		Status:    "active",
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[key.ID] = key
	m.byHash[key.KeyHash] = key.ID
	m.order = append(m.order, key.ID)

	return copyKey(key), raw, nil
}

// Validate resolves a raw key to its active record.
func (m *APIKeyManager) Validate(raw string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hashKey(raw)]
	if !ok {
		return nil, ErrInvalidKey
	}
	key := m.byID[id]
	if key.Status == "revoked" {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrKeyExpired
	}
	return copyKey(key), nil
}

// Get returns a key record by id.
func (m *APIKeyManager) Get(id string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byID[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyKey(key), nil
}

// List returns every key record in creation order.
func (m *APIKeyManager) List() []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*APIKey, 0, len(m.order))
	for _, id := range m.order {
		if key, ok := m.byID[id]; ok {
			out = append(out, copyKey(key))
		}
	}
	return out
}

// Revoke marks a key revoked. Revocation is permanent.
func (m *APIKeyManager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	if key.Status == "revoked" {
		return nil
	}
	now := time.Now().UTC()
	key.Status = "revoked"
	key.RevokedAt = &now
	return nil
}

// NewRawKey generates fresh prefixed key material.
func NewRawKey() (string, error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// copyKey returns a copy so callers cannot mutate stored records.
func copyKey(k *APIKey) *APIKey {
	cp := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
