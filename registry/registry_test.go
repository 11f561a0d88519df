package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sealdex/token"
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	keys, err := GenerateKeys()
	require.NoError(t, err)
	return keys
}

func newBackends(t *testing.T) map[string]Registry {
	t.Helper()

	sqlite, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sqlite": sqlite,
		"dynamo": NewDynamoRegistry(newMockDynamoClient()),
	}
}

// Both required backends (and the test double) must behave identically under
// the registry contract.
func TestRegistryConformance(t *testing.T) {
	for name, reg := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, reg) })
			t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, reg) })
			t.Run("KeysValidated", func(t *testing.T) { testKeysValidated(t, reg) })
			t.Run("SoftDelete", func(t *testing.T) { testSoftDelete(t, reg) })
			t.Run("SoftDeleteWrongOwner", func(t *testing.T) { testSoftDeleteWrongOwner(t, reg) })
			t.Run("List", func(t *testing.T) { testList(t, reg) })
			t.Run("Stats", func(t *testing.T) { testStats(t, reg) })
		})
	}
}

func testCreateAndGet(t *testing.T, reg Registry) {
	ctx := context.Background()
	keys := testKeys(t)

	index, err := reg.Create(ctx, NewIndex{
		Name:        "orders",
		AuthzID:     "auth0|alice",
		ProjectUUID: "project-a",
		Keys:        keys,
	})
	require.NoError(t, err)
	require.Len(t, index.PublicID, token.PublicIDLength)
	assert.NotEmpty(t, index.ID)
	assert.False(t, index.CreatedAt.IsZero())
	assert.Nil(t, index.DeletedAt)

	got, err := reg.Get(ctx, index.PublicID)
	require.NoError(t, err)
	assert.Equal(t, index.PublicID, got.PublicID)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "auth0|alice", got.AuthzID)
	assert.Equal(t, keys.FetchEntries, got.Keys.FetchEntries)
	assert.Equal(t, keys.InsertChains, got.Keys.InsertChains)
}

func testGetUnknown(t *testing.T, reg Registry) {
	_, err := reg.Get(context.Background(), "zzzzz")
	require.ErrorIs(t, err, ErrNotFound)
}

func testKeysValidated(t *testing.T, reg Registry) {
	keys := testKeys(t)
	keys.UpsertEntries = []byte("short")

	_, err := reg.Create(context.Background(), NewIndex{Name: "bad", Keys: keys})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert_entries_key")
}

func testSoftDelete(t *testing.T, reg Registry) {
	ctx := context.Background()

	index, err := reg.Create(ctx, NewIndex{
		Name: "doomed", AuthzID: "owner", ProjectUUID: "p", Keys: testKeys(t),
	})
	require.NoError(t, err)

	require.NoError(t, reg.SoftDelete(ctx, index.PublicID, "owner"))

	// Deleted records are logically absent from all read paths.
	_, err = reg.Get(ctx, index.PublicID)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again reports NotFound: the record is no longer visible.
	err = reg.SoftDelete(ctx, index.PublicID, "owner")
	require.ErrorIs(t, err, ErrNotFound)
}

func testSoftDeleteWrongOwner(t *testing.T, reg Registry) {
	ctx := context.Background()

	index, err := reg.Create(ctx, NewIndex{
		Name: "guarded", AuthzID: "owner", ProjectUUID: "p", Keys: testKeys(t),
	})
	require.NoError(t, err)

	err = reg.SoftDelete(ctx, index.PublicID, "intruder")
	require.ErrorIs(t, err, ErrNotFound)

	// Still live.
	_, err = reg.Get(ctx, index.PublicID)
	require.NoError(t, err)
}

func testList(t *testing.T, reg Registry) {
	ctx := context.Background()

	first, err := reg.Create(ctx, NewIndex{
		Name: "list-a", AuthzID: "o", ProjectUUID: "list-project", Keys: testKeys(t),
	})
	require.NoError(t, err)
	second, err := reg.Create(ctx, NewIndex{
		Name: "list-b", AuthzID: "o", ProjectUUID: "list-project", Keys: testKeys(t),
	})
	require.NoError(t, err)
	deleted, err := reg.Create(ctx, NewIndex{
		Name: "list-c", AuthzID: "o", ProjectUUID: "list-project", Keys: testKeys(t),
	})
	require.NoError(t, err)
	require.NoError(t, reg.SoftDelete(ctx, deleted.PublicID, "o"))

	indexes, err := reg.List(ctx, "list-project")
	require.NoError(t, err)
	require.Len(t, indexes, 2)

	// Newest first; the deleted record is excluded.
	ids := []string{indexes[0].PublicID, indexes[1].PublicID}
	assert.Contains(t, ids, first.PublicID)
	assert.Contains(t, ids, second.PublicID)
	assert.False(t, indexes[0].CreatedAt.Before(indexes[1].CreatedAt))

	empty, err := reg.List(ctx, "no-such-project")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testStats(t *testing.T, reg Registry) {
	ctx := context.Background()

	index, err := reg.Create(ctx, NewIndex{
		Name: "measured", AuthzID: "o", ProjectUUID: "p", Keys: testKeys(t),
	})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, reg.AddStat(ctx, StatSample{
		PublicID: index.PublicID, EntriesSize: 100, ChainsSize: 40, CreatedAt: base,
	}))
	require.NoError(t, reg.AddStat(ctx, StatSample{
		PublicID: index.PublicID, EntriesSize: 150, ChainsSize: 90, CreatedAt: base.Add(time.Second),
	}))

	samples, err := reg.Stats(ctx, index.PublicID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100), samples[0].EntriesSize)
	assert.Equal(t, int64(90), samples[1].ChainsSize)
	assert.True(t, samples[0].CreatedAt.Before(samples[1].CreatedAt))

	// Samples for unknown indexes are refused.
	err = reg.AddStat(ctx, StatSample{PublicID: "zzzzz", EntriesSize: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateKeys(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)
	require.NoError(t, keys.Validate())
	assert.NotEqual(t, keys.FetchEntries, keys.FetchChains)
}

func TestKeysForOperation(t *testing.T) {
	keys := testKeys(t)
	assert.Equal(t, keys.FetchEntries, keys.ForOperation(token.FetchEntries))
	assert.Equal(t, keys.FetchChains, keys.ForOperation(token.FetchChains))
	assert.Equal(t, keys.UpsertEntries, keys.ForOperation(token.UpsertEntries))
	assert.Equal(t, keys.InsertChains, keys.ForOperation(token.InsertChains))
	assert.Nil(t, keys.ForOperation(token.KeyType(9)))
}

func TestNewPublicID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := newPublicID()
		require.NoError(t, err)
		require.Len(t, id, token.PublicIDLength)
		for _, c := range id {
			assert.Contains(t, publicIDAlphabet, string(c))
		}
		seen[id] = struct{}{}
	}
	// 62^5 ids: 100 draws colliding would indicate a broken generator.
	assert.Greater(t, len(seen), 95)
}
