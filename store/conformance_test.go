package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sealdex/store"
	"github.com/hupe1980/sealdex/store/storetest"
)

// Every backend runs the identical conformance suite; behaving the same under
// the CAS and insert-if-absent contracts is the whole point of the
// abstraction.

func TestMemoryStoreConformance(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	storetest.Run(t, s)
}

func TestSQLiteStoreConformance(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
}

func TestPebbleStoreConformance(t *testing.T) {
	s, err := store.NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
}

func TestBoltStoreConformance(t *testing.T) {
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "store.bolt"), store.WithBoltNoSync())
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
}

func TestSizes(t *testing.T) {
	newStores := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store {
			return store.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.sqlite"))
			require.NoError(t, err)
			return s
		},
		"pebble": func(t *testing.T) store.Store {
			s, err := store.NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T) store.Store {
			s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "store.bolt"), store.WithBoltNoSync())
			require.NoError(t, err)
			return s
		},
	}

	for name, newStore := range newStores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			defer s.Close()

			entries, chains, err := s.Sizes(ctx, "empty")
			require.NoError(t, err)
			assert.Zero(t, entries)
			assert.Zero(t, chains)

			_, err = s.UpsertEntries(ctx, "idx", []store.Upsert{
				{UID: storetest.UID(1), NewValue: make([]byte, 100)},
				{UID: storetest.UID(2), NewValue: make([]byte, 50)},
			})
			require.NoError(t, err)
			require.NoError(t, s.InsertChains(ctx, "idx", []store.Record{
				{UID: storetest.UID(1), Value: make([]byte, 30)},
			}))

			entries, chains, err = s.Sizes(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, int64(150), entries)
			assert.Equal(t, int64(30), chains)

			// Other indexes are not counted.
			entries, chains, err = s.Sizes(ctx, "other")
			require.NoError(t, err)
			assert.Zero(t, entries)
			assert.Zero(t, chains)
		})
	}
}

func TestUIDFromBytes(t *testing.T) {
	_, err := store.UIDFromBytes(make([]byte, 16))
	require.Error(t, err)

	uid, err := store.UIDFromBytes(make([]byte, store.UIDLength))
	require.NoError(t, err)
	assert.Equal(t, store.UID{}, uid)
}
