package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expiresAt time.Time
}

// MemStore keeps entries in memory. Expired entries are dropped on access.
type MemStore struct {
	mu       sync.RWMutex
	data     map[string]memEntry
	revision uint64
	clock    func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]memEntry{}, clock: time.Now}
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision++
	e := memEntry{Entry: Entry{Data: data, Revision: m.revision}}
	if opts.TTL > 0 {
		e.expiresAt = m.clock().Add(opts.TTL)
	}
	m.data[key] = e
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || m.expired(e) {
		return Entry{}, ErrNotFound
	}
	out := e.Entry
	out.Data = append([]byte(nil), e.Data...)
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) && !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemStore) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !m.clock().Before(e.expiresAt)
}

var _ Store = (*MemStore)(nil)
