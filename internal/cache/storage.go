// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage is a key/value store for encoded outcomes. Implementations must be
// safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// Memory keeps entries in process memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	value    []byte
	storedAt time.Time
}

// NewMemory returns an in-memory store. A zero ttl never expires entries.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.expired(e) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: stored, storedAt: m.now()}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) expired(e memoryEntry) bool {
	return m.ttl > 0 && m.now().Sub(e.storedAt) > m.ttl
}

// Null stores nothing; every lookup misses.
type Null struct{}

func (Null) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Null) Set(context.Context, string, []byte) error         { return nil }
func (Null) Delete(context.Context, string) error              { return nil }
func (Null) Keys(context.Context) ([]string, error)            { return nil, nil }
func (Null) Clear(context.Context) error                       { return nil }
func (Null) Close() error                                      { return nil }

// FilterPrefix returns the keys starting with prefix, used by the cache
// commands to select one provider's entries.
func FilterPrefix(keys []string, prefix string) []string {
	if prefix == "" {
		return keys
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
