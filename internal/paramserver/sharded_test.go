package paramserver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/placement"
	"github.com/dreamware/adag/internal/shard"
	"github.com/dreamware/adag/internal/storage"
)

func newCluster(t *testing.T, n int) ([]*shard.Shard, *ShardedStore) {
	t.Helper()
	shards := make([]*shard.Shard, n)
	addrs := make([]string, n)
	for i := range shards {
		var c *Client
		shards[i], c = newTestShard(t, i, n)
		addrs[i] = c.base
	}
	store, err := NewShardedStore(addrs)
	require.NoError(t, err)
	return shards, store
}

func TestShardedStorePlacement(t *testing.T) {
	ctx := context.Background()
	shards, store := newCluster(t, 3)

	names := []string{"g/a", "g/b", "g/c", "g/bias", "g/weights", "g/embedding"}
	for _, n := range names {
		require.NoError(t, store.Create(ctx, param.Spec{Name: n, DType: param.Float32, Shape: []int{4}}))
	}

	for _, n := range names {
		owner := placement.ShardFor(n, 3)
		local, err := shards[owner].List(ctx)
		require.NoError(t, err)
		assert.Contains(t, local, n)
		for i, s := range shards {
			if i != owner {
				_, err := s.Read(ctx, n)
				assert.ErrorIs(t, err, storage.ErrParameterNotFound)
			}
		}
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g/a", "g/b", "g/bias", "g/c", "g/embedding", "g/weights"}, all)

	require.NoError(t, store.ApplyUpdate(ctx, "g/weights", []float64{1, 2, 3, 4}))
	got, err := store.Read(ctx, "g/weights")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, got.Values)
}

func TestShardedStoreStepAndInit(t *testing.T) {
	ctx := context.Background()
	shards, store := newCluster(t, 2)

	step, err := store.IncrementGlobalStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), step)
	hosted, err := shards[placement.StepShard].GlobalStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hosted)

	require.NoError(t, store.MarkInitialized(ctx, "run"))
	state, err := store.Initialization(ctx)
	require.NoError(t, err)
	assert.True(t, state.Initialized)
	other, err := shards[1].Initialization(ctx)
	require.NoError(t, err)
	assert.False(t, other.Initialized)
}

func TestShardedStoreConcurrentSteps(t *testing.T) {
	ctx := context.Background()
	_, store := newCluster(t, 2)
	require.NoError(t, store.Create(ctx, param.Spec{Name: "g/a", DType: param.Float64, Shape: []int{1}}))

	const workers, pushes = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < pushes; j++ {
				assert.NoError(t, store.ApplyUpdate(ctx, "g/a", []float64{1}))
				_, err := store.IncrementGlobalStep(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	step, err := store.GlobalStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*pushes), step)
	got, err := store.Read(ctx, "g/a")
	require.NoError(t, err)
	assert.Equal(t, []float64{workers * pushes}, got.Values)
}

func TestNewShardedStoreWith(t *testing.T) {
	reg, err := placement.NewRegistry([]string{"a:1", "b:2"})
	require.NoError(t, err)

	_, err = NewShardedStoreWith(reg, []storage.ParameterStore{storage.NewMemoryStore()})
	assert.ErrorIs(t, err, placement.ErrNoShards)

	s, err := NewShardedStoreWith(reg, []storage.ParameterStore{storage.NewMemoryStore(), storage.NewMemoryStore()})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Registry().NumShards())

	_, err = NewShardedStore(nil)
	assert.ErrorIs(t, err, placement.ErrNoShards)
}
