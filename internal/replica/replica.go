package replica

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/exp/slices"

	"github.com/dreamware/adag/internal/param"
)

var (
	// ErrUnknownParameter is returned for a name the replica doesn't hold.
	ErrUnknownParameter = errors.New("unknown local parameter")

	// ErrDuplicateParameter is returned when two specs share a name.
	ErrDuplicateParameter = errors.New("duplicate local parameter")
)

// Initializer produces the starting value of a parameter.
type Initializer func(spec param.Spec) []float64

// Zeros initializes every element to 0.
func Zeros(spec param.Spec) []float64 {
	return make([]float64, spec.NumElements())
}

// Constant initializes every element to v.
func Constant(v float64) Initializer {
	return func(spec param.Spec) []float64 {
		out := make([]float64, spec.NumElements())
		for i := range out {
			out[i] = v
		}
		return out
	}
}

// Normal draws every element from N(0, stddev^2) with a seeded source, so
// replicas built from the same seed start equal.
func Normal(seed int64, stddev float64) Initializer {
	rng := rand.New(rand.NewSource(seed))
	return func(spec param.Spec) []float64 {
		out := make([]float64, spec.NumElements())
		for i := range out {
			out[i] = rng.NormFloat64() * stddev
		}
		return out
	}
}

// Replica is a worker-local parameter set.
type Replica struct {
	mu     sync.RWMutex
	specs  []param.Spec // sorted by name
	values map[string]*param.Tensor
	step   atomic.Int64
}

// New creates a replica holding one tensor per spec. A nil initializer
// means Zeros.
func New(specs []param.Spec, initializer Initializer) (*Replica, error) {
	if initializer == nil {
		initializer = Zeros
	}
	r := &Replica{values: make(map[string]*param.Tensor, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.values[spec.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParameter, spec.Name)
		}
		t, err := param.NewTensor(spec, initializer(spec))
		if err != nil {
			return nil, err
		}
		r.values[spec.Name] = t
		r.specs = append(r.specs, t.Spec)
	}
	slices.SortFunc(r.specs, func(a, b param.Spec) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return r, nil
}

// Specs returns the parameter specs, sorted by name.
func (r *Replica) Specs() []param.Spec {
	out := make([]param.Spec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Rename(s.Name)
	}
	return out
}

// Names returns the parameter names, sorted.
func (r *Replica) Names() []string {
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Name
	}
	return out
}

// Read returns a copy of one parameter.
func (r *Replica) Read(name string) (*param.Tensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return t.Clone(), nil
}

// Values returns a copy of every parameter's elements, keyed by name.
func (r *Replica) Values() map[string][]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]float64, len(r.values))
	for name, t := range r.values {
		out[name] = slices.Clone(t.Values)
	}
	return out
}

// Assign overwrites one parameter.
func (r *Replica) Assign(_ context.Context, name string, values []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return t.Set(values)
}

// ApplyUpdate adds delta to one parameter.
func (r *Replica) ApplyUpdate(_ context.Context, name string, delta []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.values[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return t.Add(delta)
}

// Increment advances the local step and returns the new value.
func (r *Replica) Increment(context.Context) (int64, error) {
	return r.step.Inc(), nil
}

// LocalStep returns the number of local optimizer steps applied.
func (r *Replica) LocalStep() int64 {
	return r.step.Load()
}
