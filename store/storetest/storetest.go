// Package storetest provides the backend conformance suite for store.Store.
//
// Every backend must pass the identical property set: CAS never silently
// overwrites, chains rows are insert-once, and fetches omit missing uids
// without error. Backend packages call Run from their own tests.
//
// This package is intended for use in tests only.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sealdex/store"
)

// UID builds a deterministic test uid from a seed byte.
func UID(seed byte) store.UID {
	var uid store.UID
	for i := range uid {
		uid[i] = seed
	}
	return uid
}

// Run executes the full conformance suite against the given store.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"FetchMissingUIDs", testFetchMissingUIDs},
		{"UpsertInsertThenFetch", testUpsertInsertThenFetch},
		{"UpsertStaleRejected", testUpsertStaleRejected},
		{"UpsertExpectedAbsentRejected", testUpsertExpectedAbsentRejected},
		{"UpsertBatchIndependence", testUpsertBatchIndependence},
		{"ChainsInsertOnce", testChainsInsertOnce},
		{"TablesAreDisjoint", testTablesAreDisjoint},
		{"IndexesAreDisjoint", testIndexesAreDisjoint},
		{"ConcurrentCASSingleWinner", testConcurrentCASSingleWinner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, s)
		})
	}
}

// indexID returns a per-subtest index namespace so suite cases do not
// interfere through a shared store instance.
func indexID(t *testing.T) string {
	return t.Name()
}

func testFetchMissingUIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)

	stored := store.Record{UID: UID(1), Value: []byte("present")}
	rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: stored.UID, NewValue: stored.Value},
	})
	require.NoError(t, err)
	require.Empty(t, rejected)

	got, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{stored.UID, UID(2), UID(3)})
	require.NoError(t, err)

	// Exactly the missing uids are omitted, with no error raised.
	require.Len(t, got, 1)
	assert.Equal(t, stored.Value, got[stored.UID])
}

func testUpsertInsertThenFetch(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(10)

	// Insert (expected absent).
	rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("V")},
	})
	require.NoError(t, err)
	require.Empty(t, rejected)

	// CAS V -> W.
	rejected, err = s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, OldValue: []byte("V"), NewValue: []byte("W")},
	})
	require.NoError(t, err)
	require.Empty(t, rejected)

	got, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{uid})
	require.NoError(t, err)
	assert.Equal(t, []byte("W"), got[uid])
}

func testUpsertStaleRejected(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(20)

	_, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("V")},
	})
	require.NoError(t, err)

	_, err = s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, OldValue: []byte("V"), NewValue: []byte("W")},
	})
	require.NoError(t, err)

	// Stale writer still expects V; must lose and see W.
	rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, OldValue: []byte("V"), NewValue: []byte("X")},
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, uid, rejected[0].UID)
	assert.Equal(t, []byte("W"), rejected[0].Value)

	// Storage remains W.
	got, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{uid})
	require.NoError(t, err)
	assert.Equal(t, []byte("W"), got[uid])
}

func testUpsertExpectedAbsentRejected(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(30)

	_, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("first")},
	})
	require.NoError(t, err)

	// Second insert-if-absent for the same uid loses and learns the value.
	rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("second")},
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, []byte("first"), rejected[0].Value)
}

func testUpsertBatchIndependence(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)

	_, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: UID(40), NewValue: []byte("a")},
	})
	require.NoError(t, err)

	// One batch: a stale item and a fresh item. The stale one is rejected,
	// the fresh one still lands.
	rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: UID(40), OldValue: []byte("stale"), NewValue: []byte("b")},
		{UID: UID(41), NewValue: []byte("c")},
	})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, UID(40), rejected[0].UID)

	got, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{UID(40), UID(41)})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got[UID(40)])
	assert.Equal(t, []byte("c"), got[UID(41)])
}

func testChainsInsertOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(50)

	require.NoError(t, s.InsertChains(ctx, index, []store.Record{
		{UID: uid, Value: []byte("A")},
	}))
	// Duplicate insert is a silent no-op, the stored value is retained.
	require.NoError(t, s.InsertChains(ctx, index, []store.Record{
		{UID: uid, Value: []byte("B")},
	}))

	got, err := s.Fetch(ctx, index, store.TableChains, []store.UID{uid})
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got[uid])
}

func testTablesAreDisjoint(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(60)

	_, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("entry")},
	})
	require.NoError(t, err)
	require.NoError(t, s.InsertChains(ctx, index, []store.Record{
		{UID: uid, Value: []byte("chain")},
	}))

	entries, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{uid})
	require.NoError(t, err)
	chains, err := s.Fetch(ctx, index, store.TableChains, []store.UID{uid})
	require.NoError(t, err)

	assert.Equal(t, []byte("entry"), entries[uid])
	assert.Equal(t, []byte("chain"), chains[uid])
}

func testIndexesAreDisjoint(t *testing.T, s store.Store) {
	ctx := context.Background()
	uid := UID(70)

	_, err := s.UpsertEntries(ctx, indexID(t)+"-a", []store.Upsert{
		{UID: uid, NewValue: []byte("a")},
	})
	require.NoError(t, err)

	got, err := s.Fetch(ctx, indexID(t)+"-b", store.TableEntries, []store.UID{uid})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testConcurrentCASSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	index := indexID(t)
	uid := UID(80)

	_, err := s.UpsertEntries(ctx, index, []store.Upsert{
		{UID: uid, NewValue: []byte("base")},
	})
	require.NoError(t, err)

	const writers = 8

	var wg sync.WaitGroup
	wins := make(chan int, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rejected, err := s.UpsertEntries(ctx, index, []store.Upsert{
				{UID: uid, OldValue: []byte("base"), NewValue: []byte(fmt.Sprintf("winner-%d", w))},
			})
			assert.NoError(t, err)
			if len(rejected) == 0 {
				wins <- w
			}
		}(w)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	// Exactly one racing writer wins per round.
	require.Len(t, winners, 1)

	got, err := s.Fetch(ctx, index, store.TableEntries, []store.UID{uid})
	require.NoError(t, err)
	assert.Equal(t, []byte(fmt.Sprintf("winner-%d", winners[0])), got[uid])
}
