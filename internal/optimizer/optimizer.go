package optimizer

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/adag/internal/param"
)

// ErrInvalidLearningRate is returned for a non-positive learning rate.
var ErrInvalidLearningRate = errors.New("learning rate must be positive")

// Objective computes the gradients of a loss at the given parameter values.
// The tuple lists one gradient per parameter, sorted by name.
type Objective interface {
	ComputeGradients(ctx context.Context, values map[string][]float64) (param.GradientTuple, error)
}

// Optimizer applies a gradient tuple to a set of variables.
type Optimizer interface {
	// ApplyGradients updates every variable named in grads and then
	// increments counter once, returning its new value.
	ApplyGradients(ctx context.Context, vars Variables, grads param.GradientTuple, counter StepCounter) (int64, error)
}

// Variables is the mutable side of a parameter set.
type Variables interface {
	ApplyUpdate(ctx context.Context, name string, delta []float64) error
}

// StepCounter is a step that advances by one per applied update.
type StepCounter interface {
	Increment(ctx context.Context) (int64, error)
}

// StepCounterFunc adapts a function to StepCounter.
type StepCounterFunc func(ctx context.Context) (int64, error)

// Increment calls f.
func (f StepCounterFunc) Increment(ctx context.Context) (int64, error) {
	return f(ctx)
}

// GradientDescent applies value -= LearningRate * gradient.
type GradientDescent struct {
	LearningRate float64
}

var _ Optimizer = GradientDescent{}

// NewGradientDescent returns a GradientDescent with the given rate.
func NewGradientDescent(lr float64) (GradientDescent, error) {
	if lr <= 0 {
		return GradientDescent{}, fmt.Errorf("%w: %g", ErrInvalidLearningRate, lr)
	}
	return GradientDescent{LearningRate: lr}, nil
}

// ApplyGradients implements Optimizer. Updates are issued one parameter at a
// time; a failure part way leaves earlier parameters updated and the counter
// untouched.
func (o GradientDescent) ApplyGradients(ctx context.Context, vars Variables, grads param.GradientTuple, counter StepCounter) (int64, error) {
	if o.LearningRate <= 0 {
		return 0, fmt.Errorf("%w: %g", ErrInvalidLearningRate, o.LearningRate)
	}
	for _, g := range grads {
		delta := make([]float64, len(g.Values))
		floats.ScaleTo(delta, -o.LearningRate, g.Values)
		if err := vars.ApplyUpdate(ctx, g.Name, delta); err != nil {
			return 0, fmt.Errorf("apply gradient to %s: %w", g.Name, err)
		}
	}
	step, err := counter.Increment(ctx)
	if err != nil {
		return 0, fmt.Errorf("increment step: %w", err)
	}
	return step, nil
}
