package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/dreamware/adag/internal/param"
)

var (
	// ErrParameterNotFound is returned when a parameter doesn't exist in the store
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrSpecMismatch is returned when a parameter is declared again with a
	// different shape or dtype than the one already stored
	ErrSpecMismatch = errors.New("parameter spec mismatch")
)

// ParameterStore is the contract of the global parameter store.
//
// Consistency is per parameter only: every single Read, Assign and
// ApplyUpdate is atomic with respect to the one parameter it touches, and a
// Read issued after an update to the same parameter has returned observes
// that update. Nothing orders operations across parameters or across
// callers; a Read may see some parameters before and others after another
// caller's concurrent push. ApplyUpdate is additive, so concurrent updates
// to the same parameter compose instead of overwriting each other.
type ParameterStore interface {
	// Create declares a parameter. Declaring an existing parameter with an
	// equal spec is a no-op; a different layout returns ErrSpecMismatch.
	Create(ctx context.Context, spec param.Spec) error

	// Read returns a copy of the current value.
	// Returns ErrParameterNotFound if the parameter doesn't exist.
	Read(ctx context.Context, name string) (*param.Tensor, error)

	// Assign overwrites the value.
	Assign(ctx context.Context, name string, values []float64) error

	// ApplyUpdate adds delta element-wise to the value.
	ApplyUpdate(ctx context.Context, name string, delta []float64) error

	// List returns the names of all parameters, sorted.
	List(ctx context.Context) ([]string, error)

	// GlobalStep returns the current global step.
	GlobalStep(ctx context.Context) (int64, error)

	// IncrementGlobalStep adds one to the global step and returns the new value.
	IncrementGlobalStep(ctx context.Context) (int64, error)

	// Initialization reports whether the chief has populated the store.
	Initialization(ctx context.Context) (InitState, error)

	// MarkInitialized records that the chief populated the store under runID.
	MarkInitialized(ctx context.Context, runID string) error
}

// InitState describes whether the chief has copied its parameters up.
type InitState struct {
	RunID       string `json:"run_id,omitempty"`
	Initialized bool   `json:"initialized"`
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Parameters int   `json:"parameters"` // Number of parameters
	Elements   int   `json:"elements"`   // Total elements across all parameters
	Step       int64 `json:"step"`       // Current global step
}

// entry guards a single parameter. Holding its lock is what makes operations
// on one parameter atomic without serializing the whole store.
type entry struct {
	mu     sync.RWMutex
	tensor *param.Tensor
}

// MemoryStore implements ParameterStore with in-memory storage.
// The map of parameters is protected by mu; each parameter has its own lock.
type MemoryStore struct {
	mu      sync.RWMutex      // Protects params and init
	params  map[string]*entry // Parameter storage
	init    InitState
	step    atomic.Int64
	updates atomic.Uint64
}

var _ ParameterStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		params: make(map[string]*entry),
	}
}

func (m *MemoryStore) lookup(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.params[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	return e, nil
}

// Create declares a zero-valued parameter
func (m *MemoryStore) Create(_ context.Context, spec param.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.params[spec.Name]; exists {
		if !e.tensor.Spec.SameLayout(spec) {
			return fmt.Errorf("%w: %s already declared as %s%v, got %s%v", ErrSpecMismatch,
				spec.Name, e.tensor.DType, e.tensor.Shape, spec.DType, spec.Shape)
		}
		return nil
	}
	m.params[spec.Name] = &entry{tensor: param.Zeros(spec)}
	return nil
}

// Read returns a copy of the value to prevent external modification
func (m *MemoryStore) Read(_ context.Context, name string) (*param.Tensor, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tensor.Clone(), nil
}

// Assign copies values into the parameter
func (m *MemoryStore) Assign(_ context.Context, name string, values []float64) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tensor.Set(values)
}

// ApplyUpdate adds delta to the parameter under the parameter's own lock
func (m *MemoryStore) ApplyUpdate(_ context.Context, name string, delta []float64) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.tensor.Add(delta); err != nil {
		return err
	}
	m.updates.Inc()
	return nil
}

// List returns all parameter names in sorted order
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := maps.Keys(m.params)
	slices.Sort(names)
	return names, nil
}

// GlobalStep returns the current global step
func (m *MemoryStore) GlobalStep(_ context.Context) (int64, error) {
	return m.step.Load(), nil
}

// IncrementGlobalStep atomically increments the global step
func (m *MemoryStore) IncrementGlobalStep(_ context.Context) (int64, error) {
	return m.step.Inc(), nil
}

// Initialization returns the chief initialization marker
func (m *MemoryStore) Initialization(_ context.Context) (InitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.init, nil
}

// MarkInitialized sets the chief initialization marker
func (m *MemoryStore) MarkInitialized(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init = InitState{Initialized: true, RunID: runID}
	return nil
}

// Updates returns how many ApplyUpdate calls have succeeded
func (m *MemoryStore) Updates() uint64 {
	return m.updates.Load()
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elements := 0
	for _, e := range m.params {
		elements += e.tensor.NumElements()
	}

	return StoreStats{
		Parameters: len(m.params),
		Elements:   elements,
		Step:       m.step.Load(),
	}
}
