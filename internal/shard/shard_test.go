package shard

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/placement"
)

// ownedName returns a parameter name placed on shard id.
func ownedName(t *testing.T, id, numShards int) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("g/p%d", i)
		if placement.ShardFor(name, numShards) == id {
			return name
		}
	}
	t.Fatalf("no name found for shard %d/%d", id, numShards)
	return ""
}

func TestNewShard(t *testing.T) {
	s := NewShard(0, 1)

	assert.Equal(t, 0, s.ID)
	assert.Equal(t, ShardStateServing, s.State)
	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.Stats)
	assert.True(t, s.HostsStep())
	assert.False(t, NewShard(1, 2).HostsStep())
}

func TestShardOperations(t *testing.T) {
	ctx := context.Background()
	s := NewShard(0, 1)
	spec := param.Spec{Name: "g/a", DType: param.Float64, Shape: []int{2}}

	require.NoError(t, s.Create(ctx, spec))
	require.NoError(t, s.Assign(ctx, "g/a", []float64{1, 2}))
	require.NoError(t, s.ApplyUpdate(ctx, "g/a", []float64{1, 1}))

	tensor, err := s.Read(ctx, "g/a")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, tensor.Values)

	step, err := s.IncrementGlobalStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), step)

	stats := s.GetStats()
	assert.Equal(t, OperationCounts{Creates: 1, Reads: 1, Assigns: 1, Updates: 1, Steps: 1}, stats)

	info := s.Info(ctx)
	assert.Equal(t, 1, info.Parameters)
	assert.True(t, info.StepHost)
	assert.Equal(t, ShardStateServing, info.State)
}

func TestShardPlacement(t *testing.T) {
	ctx := context.Background()
	const numShards = 3

	for id := 0; id < numShards; id++ {
		s := NewShard(id, numShards)
		mine := ownedName(t, id, numShards)
		other := ownedName(t, (id+1)%numShards, numShards)

		assert.True(t, s.OwnsParameter(mine))
		assert.False(t, s.OwnsParameter(other))

		spec := param.Spec{DType: param.Float32, Shape: []int{1}}
		assert.NoError(t, s.Create(ctx, spec.Rename(mine)))
		assert.ErrorIs(t, s.Create(ctx, spec.Rename(other)), ErrNotOwner)
	}
}

func TestShardStepHost(t *testing.T) {
	ctx := context.Background()
	s := NewShard(1, 2)

	_, err := s.GlobalStep(ctx)
	assert.ErrorIs(t, err, ErrNoStepCounter)
	_, err = s.IncrementGlobalStep(ctx)
	assert.ErrorIs(t, err, ErrNoStepCounter)
}

func TestShardStopped(t *testing.T) {
	ctx := context.Background()
	s := NewShard(0, 1)
	require.NoError(t, s.Create(ctx, param.Spec{Name: "g/a", DType: param.Float64, Shape: []int{1}}))

	assert.True(t, s.Serving())
	s.SetState(ShardStateStopped)
	assert.False(t, s.Serving())

	assert.ErrorIs(t, s.ApplyUpdate(ctx, "g/a", []float64{1}), ErrStopped)
	assert.ErrorIs(t, s.Assign(ctx, "g/a", []float64{1}), ErrStopped)
	_, err := s.Read(ctx, "g/a")
	assert.ErrorIs(t, err, ErrStopped)
	_, err = s.IncrementGlobalStep(ctx)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, ShardStateStopped, s.Info(ctx).State)
}

func TestShardConcurrentStats(t *testing.T) {
	ctx := context.Background()
	s := NewShard(0, 1)
	require.NoError(t, s.Create(ctx, param.Spec{Name: "g/a", DType: param.Float64, Shape: []int{1}}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.ApplyUpdate(ctx, "g/a", []float64{1})
				_, _ = s.Read(ctx, "g/a")
			}
		}()
	}
	wg.Wait()

	stats := s.GetStats()
	assert.Equal(t, uint64(1000), stats.Updates)
	assert.Equal(t, uint64(1000), stats.Reads)

	tensor, _ := s.Read(ctx, "g/a")
	assert.Equal(t, 1000.0, tensor.Values[0])
}
