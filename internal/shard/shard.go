package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/placement"
	"github.com/dreamware/adag/internal/storage"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateServing means the shard is serving requests
	ShardStateServing ShardState = "serving"
	// ShardStateStopped means the ps process is shutting down
	ShardStateStopped ShardState = "stopped"
)

var (
	// ErrNotOwner is returned when a parameter is declared on a shard that
	// placement does not assign it to
	ErrNotOwner = errors.New("parameter is not placed on this shard")

	// ErrNoStepCounter is returned when a step operation reaches a shard
	// other than placement.StepShard
	ErrNoStepCounter = errors.New("global step is not hosted on this shard")

	// ErrStopped is returned for operations on a stopped shard
	ErrStopped = errors.New("shard stopped")
)

// Shard is one parameter-server partition of the global parameters.
// It wraps a storage.ParameterStore with placement checks and per-operation
// statistics, and implements storage.ParameterStore itself.
type Shard struct {
	Store     storage.ParameterStore // The storage backend for this shard
	Stats     *ShardStats            // Operation statistics
	State     ShardState             // Current shard state
	ID        int                    // ps task index
	NumShards int                    // Number of ps tasks in the cluster
	mu        sync.RWMutex           // Protects state changes
}

var _ storage.ParameterStore = (*Shard)(nil)

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops OperationStats // Operation counts
}

// OperationStats tracks operation counts
type OperationStats struct {
	Creates atomic.Uint64 // Number of parameter declarations
	Reads   atomic.Uint64 // Number of reads (pulls)
	Assigns atomic.Uint64 // Number of overwrites (chief init)
	Updates atomic.Uint64 // Number of additive updates (pushes)
	Steps   atomic.Uint64 // Number of global step increments
}

// OperationCounts is a snapshot of OperationStats
type OperationCounts struct {
	Creates uint64 `json:"creates"`
	Reads   uint64 `json:"reads"`
	Assigns uint64 `json:"assigns"`
	Updates uint64 `json:"updates"`
	Steps   uint64 `json:"steps"`
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	State      ShardState      `json:"state"`
	Ops        OperationCounts `json:"operations"`
	ID         int             `json:"id"`
	Parameters int             `json:"parameters"`
	StepHost   bool            `json:"step_host"`
}

// NewShard creates a new shard with in-memory storage
func NewShard(id, numShards int) *Shard {
	return &Shard{
		ID:        id,
		NumShards: numShards,
		Store:     storage.NewMemoryStore(),
		State:     ShardStateServing,
		Stats:     &ShardStats{},
	}
}

// OwnsParameter determines if this shard hosts a given parameter
func (s *Shard) OwnsParameter(name string) bool {
	return placement.ShardFor(name, s.NumShards) == s.ID
}

// HostsStep reports whether the global step counter lives on this shard
func (s *Shard) HostsStep() bool {
	return s.ID == placement.StepShard
}

// Serving reports whether the shard still accepts requests
func (s *Shard) Serving() bool {
	return s.serving() == nil
}

func (s *Shard) serving() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.State != ShardStateServing {
		return fmt.Errorf("%w: shard %d", ErrStopped, s.ID)
	}
	return nil
}

// Create declares a parameter owned by this shard
func (s *Shard) Create(ctx context.Context, spec param.Spec) error {
	if err := s.serving(); err != nil {
		return err
	}
	if !s.OwnsParameter(spec.Name) {
		return fmt.Errorf("%w: %s belongs to shard %d, this is shard %d",
			ErrNotOwner, spec.Name, placement.ShardFor(spec.Name, s.NumShards), s.ID)
	}
	s.Stats.Ops.Creates.Inc()
	return s.Store.Create(ctx, spec)
}

// Read retrieves a parameter value
// Increments read counter for statistics
func (s *Shard) Read(ctx context.Context, name string) (*param.Tensor, error) {
	if err := s.serving(); err != nil {
		return nil, err
	}
	s.Stats.Ops.Reads.Inc()
	return s.Store.Read(ctx, name)
}

// Assign overwrites a parameter value
// Increments assign counter for statistics
func (s *Shard) Assign(ctx context.Context, name string, values []float64) error {
	if err := s.serving(); err != nil {
		return err
	}
	s.Stats.Ops.Assigns.Inc()
	return s.Store.Assign(ctx, name, values)
}

// ApplyUpdate adds a delta to a parameter value
// Increments update counter for statistics
func (s *Shard) ApplyUpdate(ctx context.Context, name string, delta []float64) error {
	if err := s.serving(); err != nil {
		return err
	}
	s.Stats.Ops.Updates.Inc()
	return s.Store.ApplyUpdate(ctx, name, delta)
}

// List returns the names of the parameters on this shard
func (s *Shard) List(ctx context.Context) ([]string, error) {
	return s.Store.List(ctx)
}

// GlobalStep returns the global step if this shard hosts it
func (s *Shard) GlobalStep(ctx context.Context) (int64, error) {
	if !s.HostsStep() {
		return 0, fmt.Errorf("%w: shard %d", ErrNoStepCounter, s.ID)
	}
	return s.Store.GlobalStep(ctx)
}

// IncrementGlobalStep increments the global step if this shard hosts it
func (s *Shard) IncrementGlobalStep(ctx context.Context) (int64, error) {
	if err := s.serving(); err != nil {
		return 0, err
	}
	if !s.HostsStep() {
		return 0, fmt.Errorf("%w: shard %d", ErrNoStepCounter, s.ID)
	}
	s.Stats.Ops.Steps.Inc()
	return s.Store.IncrementGlobalStep(ctx)
}

// Initialization returns the chief initialization marker
func (s *Shard) Initialization(ctx context.Context) (storage.InitState, error) {
	return s.Store.Initialization(ctx)
}

// MarkInitialized records the chief initialization marker
func (s *Shard) MarkInitialized(ctx context.Context, runID string) error {
	if err := s.serving(); err != nil {
		return err
	}
	return s.Store.MarkInitialized(ctx, runID)
}

// GetStats returns a snapshot of the operation counters
func (s *Shard) GetStats() OperationCounts {
	return OperationCounts{
		Creates: s.Stats.Ops.Creates.Load(),
		Reads:   s.Stats.Ops.Reads.Load(),
		Assigns: s.Stats.Ops.Assigns.Load(),
		Updates: s.Stats.Ops.Updates.Load(),
		Steps:   s.Stats.Ops.Steps.Load(),
	}
}

// Info returns metadata about the shard
func (s *Shard) Info(ctx context.Context) ShardInfo {
	s.mu.RLock()
	state := s.State
	s.mu.RUnlock()

	names, _ := s.Store.List(ctx)

	return ShardInfo{
		ID:         s.ID,
		State:      state,
		Parameters: len(names),
		StepHost:   s.HostsStep(),
		Ops:        s.GetStats(),
	}
}

// SetState updates the shard state
func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}
