package session

import (
	"context"
	"errors"
	"sync"
)

// DefaultTokenKey is the storage key the console has always used for the
// session token.
const DefaultTokenKey = "autorent_leon_token"

// ErrStorageUnavailable wraps backend failures so callers can tell them
// apart from an absent token.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Storage is durable key-value persistence for session data.
//
// Get reports ok=false for a missing key. Clear removes every key the
// backend owns, not only the token.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}

// MemoryStorage is a process-local [Storage].
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStorage) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
