package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with per-key expiry. It serves single-node
// deployments where no Valkey server is configured.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]entry), now: time.Now}
}

// SetNX stores value only when key is absent or expired.
func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return true, nil
}

// Get returns the stored bytes or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Del removes key.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Ping always succeeds.
func (m *MemoryProvider) Ping(context.Context) error { return nil }

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]entry)
	return nil
}

// lookup must be called with mu held; expired entries are evicted.
func (m *MemoryProvider) lookup(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}
