package store

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cockroachdb/pebble"
)

const pebbleLockStripes = 128

// PebbleStore implements Store over an embedded ordered key-value store.
//
// Pebble has no multi-key transactions, so CAS is serialized per uid with a
// striped in-process lock: this store owns its database directory exclusively,
// which makes the lock a valid linearization point for a single uid's CAS
// chain.
type PebbleStore struct {
	db    *pebble.DB
	locks [pebbleLockStripes]sync.Mutex
}

// NewPebbleStore opens (or creates) a Pebble-backed store at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Rows are stored under indexID || table prefix byte || uid. Fixed-width uids
// keep the concatenation unambiguous.
func pebbleKey(indexID string, table Table, uid UID) []byte {
	key := make([]byte, 0, len(indexID)+1+UIDLength)
	key = append(key, indexID...)
	key = append(key, byte(table))
	key = append(key, uid[:]...)
	return key
}

func pebblePrefix(indexID string, table Table) []byte {
	prefix := make([]byte, 0, len(indexID)+1)
	prefix = append(prefix, indexID...)
	prefix = append(prefix, byte(table))
	return prefix
}

func (p *PebbleStore) lockFor(key []byte) *sync.Mutex {
	h := fnv.New32a()
	h.Write(key)
	return &p.locks[h.Sum32()%pebbleLockStripes]
}

// get returns the stored value for key, or (nil, false) if absent.
func (p *PebbleStore) get(key []byte) ([]byte, bool, error) {
	value, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := bytes.Clone(value)
	closer.Close()
	return out, true, nil
}

// Fetch performs a batched point lookup.
func (p *PebbleStore) Fetch(_ context.Context, indexID string, table Table, uids []UID) (map[UID][]byte, error) {
	out := make(map[UID][]byte, len(uids))
	for _, uid := range uids {
		value, ok, err := p.get(pebbleKey(indexID, table, uid))
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", table, err)
		}
		if ok {
			out[uid] = value
		}
	}
	return out, nil
}

// UpsertEntries applies conditional writes to the entries table.
func (p *PebbleStore) UpsertEntries(_ context.Context, indexID string, items []Upsert) ([]Record, error) {
	var rejected []Record

	for _, item := range items {
		key := pebbleKey(indexID, TableEntries, item.UID)

		lock := p.lockFor(key)
		lock.Lock()

		current, exists, err := p.get(key)
		if err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("upsert entries: %w", err)
		}

		match := (item.OldValue == nil && !exists) ||
			(item.OldValue != nil && exists && bytes.Equal(current, item.OldValue))
		if match {
			err = p.db.Set(key, item.NewValue, pebble.Sync)
		}
		lock.Unlock()

		if err != nil {
			return nil, fmt.Errorf("upsert entries: %w", err)
		}
		if !match {
			rejected = append(rejected, Record{UID: item.UID, Value: current})
		}
	}
	return rejected, nil
}

// InsertChains inserts rows into the chains table, skipping existing uids.
func (p *PebbleStore) InsertChains(_ context.Context, indexID string, items []Record) error {
	for _, item := range items {
		key := pebbleKey(indexID, TableChains, item.UID)

		lock := p.lockFor(key)
		lock.Lock()

		_, exists, err := p.get(key)
		if err == nil && !exists {
			err = p.db.Set(key, item.Value, pebble.Sync)
		}
		lock.Unlock()

		if err != nil {
			return fmt.Errorf("insert chains: %w", err)
		}
	}
	return nil
}

// Sizes reports stored value bytes per table by scanning the index prefix.
func (p *PebbleStore) Sizes(_ context.Context, indexID string) (entries, chains int64, err error) {
	entries, err = p.sizeOf(indexID, TableEntries)
	if err != nil {
		return 0, 0, err
	}
	chains, err = p.sizeOf(indexID, TableChains)
	if err != nil {
		return 0, 0, err
	}
	return entries, chains, nil
}

func (p *PebbleStore) sizeOf(indexID string, table Table) (int64, error) {
	prefix := pebblePrefix(indexID, table)

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("%s size: %w", table, err)
	}
	defer iter.Close()

	var total int64
	for iter.First(); iter.Valid(); iter.Next() {
		total += int64(len(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("%s size: %w", table, err)
	}
	return total, nil
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil if no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Close closes the underlying database.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}
