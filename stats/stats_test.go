package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sealdex"
	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/store"
)

func newIndex(t *testing.T, reg registry.Registry, name string) *registry.Index {
	t.Helper()
	keys, err := registry.GenerateKeys()
	require.NoError(t, err)
	index, err := reg.Create(t.Context(), registry.NewIndex{
		Name: name, AuthzID: "o", ProjectUUID: "p", Keys: keys,
	})
	require.NoError(t, err)
	return index
}

func seedEntries(t *testing.T, st store.Store, indexID string, size int) {
	t.Helper()
	var uid store.UID
	uid[0] = byte(size)
	_, err := st.UpsertEntries(t.Context(), indexID, []store.Upsert{
		{UID: uid, NewValue: make([]byte, size)},
	})
	require.NoError(t, err)
}

func TestSampleOnce(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	st := store.NewMemoryStore()
	first := newIndex(t, reg, "first")
	second := newIndex(t, reg, "second")

	seedEntries(t, st, first.PublicID, 100)
	seedEntries(t, st, second.PublicID, 25)

	s := NewSampler(reg, st, WithLogger(sealdex.NoopLogger()))
	s.SampleOnce(t.Context())
	s.SampleOnce(t.Context())

	samples, err := reg.Stats(t.Context(), first.PublicID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100), samples[0].EntriesSize)
	assert.Equal(t, int64(0), samples[0].ChainsSize)

	samples, err = reg.Stats(t.Context(), second.PublicID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(25), samples[1].EntriesSize)
}

func TestSampleOnceSkipsDeleted(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	st := store.NewMemoryStore()
	live := newIndex(t, reg, "live")
	dead := newIndex(t, reg, "dead")
	require.NoError(t, reg.SoftDelete(t.Context(), dead.PublicID, "o"))

	s := NewSampler(reg, st, WithLogger(sealdex.NoopLogger()))
	s.SampleOnce(t.Context())

	samples, err := reg.Stats(t.Context(), live.PublicID)
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	samples, err = reg.Stats(t.Context(), dead.PublicID)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestRunStopsOnCancel(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	st := store.NewMemoryStore()
	index := newIndex(t, reg, "ticking")

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSampler(reg, st,
		WithInterval(5*time.Millisecond),
		WithLogger(sealdex.NoopLogger()),
	)
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		samples, err := reg.Stats(context.Background(), index.PublicID)
		return err == nil && len(samples) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop")
	}
}
