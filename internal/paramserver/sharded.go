package paramserver

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/placement"
	"github.com/dreamware/adag/internal/storage"
)

// ShardedStore spreads parameters over every ps task by placement. The
// global step and the initialization marker live on placement.StepShard.
type ShardedStore struct {
	registry *placement.Registry
	shards   []storage.ParameterStore
}

var _ storage.ParameterStore = (*ShardedStore)(nil)

// NewShardedStore returns a store with one HTTP client per ps address.
func NewShardedStore(psAddrs []string) (*ShardedStore, error) {
	reg, err := placement.NewRegistry(psAddrs)
	if err != nil {
		return nil, err
	}
	shards := make([]storage.ParameterStore, 0, reg.NumShards())
	for _, a := range reg.Assignments() {
		shards = append(shards, NewClient(a.Addr))
	}
	return &ShardedStore{registry: reg, shards: shards}, nil
}

// NewShardedStoreWith combines existing stores, indexed by shard id.
func NewShardedStoreWith(reg *placement.Registry, shards []storage.ParameterStore) (*ShardedStore, error) {
	if len(shards) != reg.NumShards() {
		return nil, fmt.Errorf("%w: registry has %d shards, got %d stores",
			placement.ErrNoShards, reg.NumShards(), len(shards))
	}
	return &ShardedStore{registry: reg, shards: slices.Clone(shards)}, nil
}

// Registry returns the placement used to route parameters.
func (s *ShardedStore) Registry() *placement.Registry {
	return s.registry
}

func (s *ShardedStore) owner(name string) storage.ParameterStore {
	return s.shards[s.registry.ShardFor(name)]
}

func (s *ShardedStore) stepHost() storage.ParameterStore {
	return s.shards[placement.StepShard]
}

// Create implements storage.ParameterStore.
func (s *ShardedStore) Create(ctx context.Context, spec param.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	return s.owner(spec.Name).Create(ctx, spec)
}

// Read implements storage.ParameterStore.
func (s *ShardedStore) Read(ctx context.Context, name string) (*param.Tensor, error) {
	return s.owner(name).Read(ctx, name)
}

// Assign implements storage.ParameterStore.
func (s *ShardedStore) Assign(ctx context.Context, name string, values []float64) error {
	return s.owner(name).Assign(ctx, name, values)
}

// ApplyUpdate implements storage.ParameterStore.
func (s *ShardedStore) ApplyUpdate(ctx context.Context, name string, delta []float64) error {
	return s.owner(name).ApplyUpdate(ctx, name, delta)
}

// List implements storage.ParameterStore, querying every shard concurrently.
func (s *ShardedStore) List(ctx context.Context) ([]string, error) {
	parts := make([][]string, len(s.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range s.shards {
		g.Go(func() error {
			names, err := st.List(gctx)
			if err != nil {
				return fmt.Errorf("list shard %d: %w", i, err)
			}
			parts[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	slices.Sort(out)
	return out, nil
}

// GlobalStep implements storage.ParameterStore.
func (s *ShardedStore) GlobalStep(ctx context.Context) (int64, error) {
	return s.stepHost().GlobalStep(ctx)
}

// IncrementGlobalStep implements storage.ParameterStore.
func (s *ShardedStore) IncrementGlobalStep(ctx context.Context) (int64, error) {
	return s.stepHost().IncrementGlobalStep(ctx)
}

// Initialization implements storage.ParameterStore.
func (s *ShardedStore) Initialization(ctx context.Context) (storage.InitState, error) {
	return s.stepHost().Initialization(ctx)
}

// MarkInitialized implements storage.ParameterStore.
func (s *ShardedStore) MarkInitialized(ctx context.Context, runID string) error {
	return s.stepHost().MarkInitialized(ctx, runID)
}
