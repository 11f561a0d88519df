package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	boltBucketEntries = []byte("entries")
	boltBucketChains  = []byte("chains")
)

// BoltStore implements Store over bbolt, a memory-mapped B+tree.
//
// bbolt serializes all writers through a single update transaction, which
// gives the CAS and insert-if-absent contracts directly: the read-compare-set
// sequence runs inside one transaction.
type BoltStore struct {
	db *bbolt.DB
}

// BoltOption configures a BoltStore.
type BoltOption func(*bbolt.Options)

// WithBoltNoSync disables fsync per transaction.
// Use only for testing, never in production.
func WithBoltNoSync() BoltOption {
	return func(o *bbolt.Options) {
		o.NoSync = true
	}
}

// NewBoltStore opens (or creates) a bbolt-backed store at path.
func NewBoltStore(path string, opts ...BoltOption) (*BoltStore, error) {
	options := &bbolt.Options{Timeout: time.Second}
	for _, opt := range opts {
		opt(options)
	}

	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open bolt %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{boltBucketEntries, boltBucketChains} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func boltBucket(table Table) []byte {
	if table == TableChains {
		return boltBucketChains
	}
	return boltBucketEntries
}

// Keys are indexID || uid within the per-table bucket.
func boltKey(indexID string, uid UID) []byte {
	key := make([]byte, 0, len(indexID)+UIDLength)
	key = append(key, indexID...)
	key = append(key, uid[:]...)
	return key
}

// Fetch performs a batched point lookup.
func (b *BoltStore) Fetch(_ context.Context, indexID string, table Table, uids []UID) (map[UID][]byte, error) {
	out := make(map[UID][]byte, len(uids))
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket(table))
		for _, uid := range uids {
			if value := bucket.Get(boltKey(indexID, uid)); value != nil {
				out[uid] = bytes.Clone(value)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	return out, nil
}

// UpsertEntries applies conditional writes to the entries table.
func (b *BoltStore) UpsertEntries(_ context.Context, indexID string, items []Upsert) ([]Record, error) {
	var rejected []Record
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucketEntries)
		for _, item := range items {
			key := boltKey(indexID, item.UID)
			current := bucket.Get(key)

			match := (item.OldValue == nil && current == nil) ||
				(item.OldValue != nil && current != nil && bytes.Equal(current, item.OldValue))
			if !match {
				rejected = append(rejected, Record{UID: item.UID, Value: bytes.Clone(current)})
				continue
			}
			if err := bucket.Put(key, item.NewValue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert entries: %w", err)
	}
	return rejected, nil
}

// InsertChains inserts rows into the chains table, skipping existing uids.
func (b *BoltStore) InsertChains(_ context.Context, indexID string, items []Record) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucketChains)
		for _, item := range items {
			key := boltKey(indexID, item.UID)
			if bucket.Get(key) != nil {
				continue
			}
			if err := bucket.Put(key, item.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert chains: %w", err)
	}
	return nil
}

// Sizes reports stored value bytes per table by scanning the index prefix.
func (b *BoltStore) Sizes(_ context.Context, indexID string) (entries, chains int64, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(indexID)
		for _, table := range []Table{TableEntries, TableChains} {
			cursor := tx.Bucket(boltBucket(table)).Cursor()
			var total int64
			for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
				total += int64(len(v))
			}
			if table == TableEntries {
				entries = total
			} else {
				chains = total
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sizes: %w", err)
	}
	return entries, chains, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
