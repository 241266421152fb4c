package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/dreamware/adag/internal/mirror"
	"github.com/dreamware/adag/internal/optimizer"
	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/replica"
	"github.com/dreamware/adag/internal/storage"
)

var (
	// ErrUnmapped is returned for a gradient whose parameter has no global
	// counterpart.
	ErrUnmapped = errors.New("parameter has no global counterpart")

	// ErrNotInitialized is returned while the chief has not populated the
	// global store.
	ErrNotInitialized = errors.New("global parameters not initialized")
)

// Synchronizer pushes to and pulls from the global store for one worker.
type Synchronizer struct {
	Mirror    *mirror.Map
	Store     storage.ParameterStore
	Optimizer optimizer.Optimizer // global optimizer; distinct from the worker's local one
}

// Push applies avg, keyed by local names, to the global parameters and
// increments the global step. It returns the new global step.
func (s *Synchronizer) Push(ctx context.Context, avg param.GradientTuple) (int64, error) {
	global := make(param.GradientTuple, len(avg))
	for i, g := range avg {
		name, ok := s.Mirror.Global(g.Name)
		if !ok {
			return 0, fmt.Errorf("push: %w: %s", ErrUnmapped, g.Name)
		}
		global[i] = param.Gradient{Name: name, Values: g.Values}
	}
	step, err := s.Optimizer.ApplyGradients(ctx, s.Store, global,
		optimizer.StepCounterFunc(s.Store.IncrementGlobalStep))
	if err != nil {
		return 0, fmt.Errorf("push: %w", err)
	}
	return step, nil
}

// Pull overwrites every local parameter with its global value.
func (s *Synchronizer) Pull(ctx context.Context, rep *replica.Replica) error {
	for _, p := range s.Mirror.Pairs() {
		t, err := s.Store.Read(ctx, p.Global.Name)
		if err != nil {
			return fmt.Errorf("pull %s: %w", p.Global.Name, err)
		}
		if err := rep.Assign(ctx, p.Local.Name, t.Values); err != nil {
			return fmt.Errorf("pull %s: %w", p.Local.Name, err)
		}
	}
	return nil
}

// Sync pushes avg and then pulls. Errors are returned without retry.
func (s *Synchronizer) Sync(ctx context.Context, rep *replica.Replica, avg param.GradientTuple) (int64, error) {
	step, err := s.Push(ctx, avg)
	if err != nil {
		return 0, err
	}
	if err := s.Pull(ctx, rep); err != nil {
		return step, err
	}
	return step, nil
}

// InitializeGlobal copies every local parameter of the chief's replica to
// the global store and marks the store initialized. It returns the run id.
func (s *Synchronizer) InitializeGlobal(ctx context.Context, rep *replica.Replica) (string, error) {
	for _, p := range s.Mirror.Pairs() {
		t, err := rep.Read(p.Local.Name)
		if err != nil {
			return "", fmt.Errorf("initialize %s: %w", p.Global.Name, err)
		}
		if err := s.Store.Assign(ctx, p.Global.Name, t.Values); err != nil {
			return "", fmt.Errorf("initialize %s: %w", p.Global.Name, err)
		}
	}
	runID := uuid.NewString()
	if err := s.Store.MarkInitialized(ctx, runID); err != nil {
		return "", fmt.Errorf("mark initialized: %w", err)
	}
	return runID, nil
}

// PullInitial copies the initialized global parameters into rep.
func (s *Synchronizer) PullInitial(ctx context.Context, rep *replica.Replica) error {
	if err := s.Pull(ctx, rep); err != nil {
		return fmt.Errorf("initial %w", err)
	}
	return nil
}

// WaitInitialized polls the store with exponential backoff until the chief
// has initialized it, for at most maxWait.
func (s *Synchronizer) WaitInitialized(ctx context.Context, maxWait time.Duration) (storage.InitState, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	var state storage.InitState
	err := backoff.Retry(func() error {
		var err error
		state, err = s.Store.Initialization(ctx)
		if err != nil {
			return err
		}
		if !state.Initialized {
			glog.V(1).Infof("waiting for chief to initialize global parameters")
			return ErrNotInitialized
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return storage.InitState{}, fmt.Errorf("wait for initialization: %w", err)
	}
	return state, nil
}
