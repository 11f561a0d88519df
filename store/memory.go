package store

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation for testing and
// development. Thread-safe for concurrent readers and writers.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memKey][]byte
}

type memKey struct {
	indexID string
	table   Table
	uid     UID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[memKey][]byte),
	}
}

// Fetch performs a batched point lookup.
func (m *MemoryStore) Fetch(_ context.Context, indexID string, table Table, uids []UID) (map[UID][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[UID][]byte, len(uids))
	for _, uid := range uids {
		if value, ok := m.rows[memKey{indexID, table, uid}]; ok {
			out[uid] = bytes.Clone(value)
		}
	}
	return out, nil
}

// UpsertEntries applies conditional writes to the entries table.
func (m *MemoryStore) UpsertEntries(_ context.Context, indexID string, items []Upsert) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rejected []Record
	for _, item := range items {
		key := memKey{indexID, TableEntries, item.UID}
		current, exists := m.rows[key]

		match := (item.OldValue == nil && !exists) ||
			(item.OldValue != nil && exists && bytes.Equal(current, item.OldValue))
		if match {
			m.rows[key] = bytes.Clone(item.NewValue)
		} else {
			rejected = append(rejected, Record{UID: item.UID, Value: bytes.Clone(current)})
		}
	}
	return rejected, nil
}

// InsertChains inserts rows into the chains table, skipping existing uids.
func (m *MemoryStore) InsertChains(_ context.Context, indexID string, items []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		key := memKey{indexID, TableChains, item.UID}
		if _, exists := m.rows[key]; exists {
			continue
		}
		m.rows[key] = bytes.Clone(item.Value)
	}
	return nil
}

// Sizes reports stored value bytes per table.
func (m *MemoryStore) Sizes(_ context.Context, indexID string) (entries, chains int64, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, value := range m.rows {
		if key.indexID != indexID {
			continue
		}
		switch key.table {
		case TableEntries:
			entries += int64(len(value))
		case TableChains:
			chains += int64(len(value))
		}
	}
	return entries, chains, nil
}

// Close releases nothing for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
