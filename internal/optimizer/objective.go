package optimizer

import (
	"context"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/adag/internal/param"
)

// QuadraticObjective is the loss mean((sum(Terms) - Target)^2), taken over
// the elements of the summed terms. All terms must have the same length.
// Parameters not listed in Terms get a zero gradient.
type QuadraticObjective struct {
	Target float64
	Terms  []string
}

var _ Objective = QuadraticObjective{}

// Output returns the element-wise sum of the terms.
func (q QuadraticObjective) Output(values map[string][]float64) ([]float64, error) {
	if len(q.Terms) == 0 {
		return nil, fmt.Errorf("%w: objective has no terms", param.ErrShapeMismatch)
	}
	var out []float64
	for _, name := range q.Terms {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("%w: no value for term %s", param.ErrShapeMismatch, name)
		}
		if out == nil {
			out = make([]float64, len(v))
		} else if len(v) != len(out) {
			return nil, fmt.Errorf("%w: term %s has %d elements, want %d",
				param.ErrShapeMismatch, name, len(v), len(out))
		}
		floats.Add(out, v)
	}
	return out, nil
}

// Loss evaluates the objective.
func (q QuadraticObjective) Loss(values map[string][]float64) (float64, error) {
	out, err := q.Output(values)
	if err != nil {
		return 0, err
	}
	floats.AddConst(-q.Target, out)
	return floats.Dot(out, out) / float64(len(out)), nil
}

// ComputeGradients implements Objective.
// d loss / d term[i] = 2 * (sum[i] - Target) / n for every occurrence of the
// term in Terms.
func (q QuadraticObjective) ComputeGradients(ctx context.Context, values map[string][]float64) (param.GradientTuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	residual, err := q.Output(values)
	if err != nil {
		return nil, err
	}
	floats.AddConst(-q.Target, residual)
	floats.Scale(2/float64(len(residual)), residual)

	names := maps.Keys(values)
	slices.Sort(names)
	grads := make(param.GradientTuple, len(names))
	for i, name := range names {
		g := make([]float64, len(values[name]))
		for _, term := range q.Terms {
			if term == name {
				floats.Add(g, residual)
			}
		}
		grads[i] = param.Gradient{Name: name, Values: g}
	}
	return grads, nil
}

// ConstantObjective has the same gradient Value for every element of every
// parameter, regardless of the current values.
type ConstantObjective struct {
	Value float64
}

var _ Objective = ConstantObjective{}

// ComputeGradients implements Objective.
func (c ConstantObjective) ComputeGradients(ctx context.Context, values map[string][]float64) (param.GradientTuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := maps.Keys(values)
	slices.Sort(names)
	grads := make(param.GradientTuple, len(names))
	for i, name := range names {
		g := make([]float64, len(values[name]))
		floats.AddConst(c.Value, g)
		grads[i] = param.Gradient{Name: name, Values: g}
	}
	return grads, nil
}
