// Package window runs a worker's T local optimizer steps and averages the
// gradients they produced.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/adag/internal/optimizer"
	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/replica"
)

// ErrInvalidWindow is returned for a window size below 1.
var ErrInvalidWindow = errors.New("window size must be positive")

// State is the progress of the current run: awaiting step Step, or Done.
type State struct {
	Step int  `json:"step"`
	Done bool `json:"done"`
}

// Window accumulates T gradient tuples per run.
type Window struct {
	size int

	mu       sync.Mutex
	state    State
	recorded []param.GradientTuple
}

// New returns a window of size t.
func New(t int) (*Window, error) {
	if t <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, t)
	}
	return &Window{size: t}, nil
}

// Size returns T.
func (w *Window) Size() int {
	return w.size
}

// State returns the progress of the current or last run.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Recorded returns a copy of the tuples recorded by the last run.
func (w *Window) Recorded() []param.GradientTuple {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]param.GradientTuple, len(w.recorded))
	for i, tuple := range w.recorded {
		out[i] = tuple.Clone()
	}
	return out
}

// Run performs T local steps on rep and returns the mean of their gradients.
// Each step computes gradients against the values left by the previous
// step's update, then applies them with opt, advancing the local step.
func (w *Window) Run(ctx context.Context, rep *replica.Replica, obj optimizer.Objective, opt optimizer.Optimizer) (param.GradientTuple, error) {
	w.mu.Lock()
	w.state = State{}
	w.recorded = make([]param.GradientTuple, 0, w.size)
	w.mu.Unlock()

	for i := 0; i < w.size; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		grads, err := obj.ComputeGradients(ctx, rep.Values())
		if err != nil {
			return nil, fmt.Errorf("window step %d: compute gradients: %w", i, err)
		}
		if _, err := opt.ApplyGradients(ctx, rep, grads, rep); err != nil {
			return nil, fmt.Errorf("window step %d: apply gradients: %w", i, err)
		}

		w.mu.Lock()
		w.recorded = append(w.recorded, grads.Clone())
		w.state.Step = i + 1
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	avg, err := param.Mean(w.recorded)
	if err != nil {
		return nil, err
	}
	w.state.Done = true
	return avg, nil
}
