package param

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
)

// DType is the numeric type of a parameter's elements.
type DType string

const (
	// Float32 parameters round every stored element through float32.
	Float32 DType = "float32"
	// Float64 parameters store elements at full precision.
	Float64 DType = "float64"
)

var (
	// ErrInvalidSpec is returned when a spec has a missing or malformed
	// name, an empty or non-positive shape, or an unknown dtype.
	ErrInvalidSpec = errors.New("invalid parameter spec")

	// ErrShapeMismatch is returned when values or gradients do not line up
	// with the parameter they are meant for.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNoGradients is returned when averaging an empty gradient window.
	ErrNoGradients = errors.New("no gradients to average")
)

// Spec declares a named, shaped, typed parameter.
// Two specs describe the same parameter only if all three fields match.
type Spec struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Validate checks that the spec can back a tensor.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	if err := validName(s.Name); err != nil {
		return err
	}
	if len(s.Shape) == 0 {
		return fmt.Errorf("%w: %s has no shape", ErrInvalidSpec, s.Name)
	}
	for _, d := range s.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: %s has dimension %d", ErrInvalidSpec, s.Name, d)
		}
	}
	switch s.DType {
	case Float32, Float64:
	default:
		return fmt.Errorf("%w: %s has dtype %q", ErrInvalidSpec, s.Name, s.DType)
	}
	return nil
}

// validName rejects names that a URL path would not carry unchanged.
// Every "/"-separated segment must be non-empty and neither "." nor "..".
func validName(name string) error {
	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "":
			return fmt.Errorf("%w: %q has an empty path segment", ErrInvalidSpec, name)
		case ".", "..":
			return fmt.Errorf("%w: %q has a %q segment", ErrInvalidSpec, name, seg)
		}
	}
	return nil
}

// NumElements returns the product of the shape's dimensions.
func (s Spec) NumElements() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Equal reports whether both specs have the same name, dtype and shape.
func (s Spec) Equal(o Spec) bool {
	return s.Name == o.Name && s.DType == o.DType && slices.Equal(s.Shape, o.Shape)
}

// SameLayout reports whether both specs have the same dtype and shape,
// ignoring the name. Local and global forms of a parameter share a layout.
func (s Spec) SameLayout(o Spec) bool {
	return s.DType == o.DType && slices.Equal(s.Shape, o.Shape)
}

// Rename returns a copy of the spec under a different name.
func (s Spec) Rename(name string) Spec {
	return Spec{Name: name, DType: s.DType, Shape: slices.Clone(s.Shape)}
}

// Cast rounds values in place to the spec's dtype.
func (s Spec) Cast(values []float64) {
	if s.DType != Float32 {
		return
	}
	for i, v := range values {
		values[i] = float64(float32(v))
	}
}

// Tensor is a parameter value: a spec plus flat row-major elements.
type Tensor struct {
	Spec
	Values []float64 `json:"values"`
}

// NewTensor copies values into a tensor for spec.
func NewTensor(spec Spec, values []float64) (*Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(values) != spec.NumElements() {
		return nil, fmt.Errorf("%w: %s wants %d values, got %d",
			ErrShapeMismatch, spec.Name, spec.NumElements(), len(values))
	}
	t := &Tensor{Spec: spec.Rename(spec.Name), Values: slices.Clone(values)}
	spec.Cast(t.Values)
	return t, nil
}

// Zeros returns a zero-valued tensor for spec.
// The spec is assumed valid.
func Zeros(spec Spec) *Tensor {
	return &Tensor{Spec: spec.Rename(spec.Name), Values: make([]float64, spec.NumElements())}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Spec: t.Spec.Rename(t.Name), Values: slices.Clone(t.Values)}
}

// Set overwrites the elements with values.
func (t *Tensor) Set(values []float64) error {
	if len(values) != len(t.Values) {
		return fmt.Errorf("%w: %s wants %d values, got %d",
			ErrShapeMismatch, t.Name, len(t.Values), len(values))
	}
	copy(t.Values, values)
	t.Cast(t.Values)
	return nil
}

// Add adds delta element-wise.
func (t *Tensor) Add(delta []float64) error {
	if len(delta) != len(t.Values) {
		return fmt.Errorf("%w: %s wants %d deltas, got %d",
			ErrShapeMismatch, t.Name, len(t.Values), len(delta))
	}
	floats.Add(t.Values, delta)
	t.Cast(t.Values)
	return nil
}

// Gradient is the gradient of the loss with respect to one parameter.
type Gradient struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// GradientTuple holds one gradient per parameter, ordered like the
// parameter set it was computed for.
type GradientTuple []Gradient

// Clone returns a deep copy of the tuple.
func (gt GradientTuple) Clone() GradientTuple {
	out := make(GradientTuple, len(gt))
	for i, g := range gt {
		out[i] = Gradient{Name: g.Name, Values: slices.Clone(g.Values)}
	}
	return out
}

// Lookup returns the gradient for name.
func (gt GradientTuple) Lookup(name string) (Gradient, bool) {
	i := slices.IndexFunc(gt, func(g Gradient) bool { return g.Name == name })
	if i < 0 {
		return Gradient{}, false
	}
	return gt[i], true
}

// Mean returns the element-wise mean of the tuples, computed independently
// per parameter. Every tuple must list the same parameters in the same order
// with the same number of elements.
func Mean(tuples []GradientTuple) (GradientTuple, error) {
	if len(tuples) == 0 {
		return nil, ErrNoGradients
	}
	first := tuples[0]
	out := make(GradientTuple, len(first))
	for i, g := range first {
		out[i] = Gradient{Name: g.Name, Values: make([]float64, len(g.Values))}
	}
	for k, tuple := range tuples {
		if len(tuple) != len(out) {
			return nil, fmt.Errorf("%w: tuple %d has %d gradients, want %d",
				ErrShapeMismatch, k, len(tuple), len(out))
		}
		for i, g := range tuple {
			if g.Name != out[i].Name {
				return nil, fmt.Errorf("%w: tuple %d position %d is %s, want %s",
					ErrShapeMismatch, k, i, g.Name, out[i].Name)
			}
			if len(g.Values) != len(out[i].Values) {
				return nil, fmt.Errorf("%w: tuple %d gradient %s has %d values, want %d",
					ErrShapeMismatch, k, g.Name, len(g.Values), len(out[i].Values))
			}
			floats.Add(out[i].Values, g.Values)
		}
	}
	scale := 1 / float64(len(tuples))
	for i := range out {
		floats.Scale(scale, out[i].Values)
	}
	return out, nil
}
