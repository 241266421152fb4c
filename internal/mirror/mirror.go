// Package mirror pairs every local parameter of a worker with its global
// counterpart on the parameter servers.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/adag/internal/param"
)

// GlobalPrefix is prepended to a local name to form its global name.
const GlobalPrefix = "g/"

// ErrVariableCreation is returned when a global counterpart cannot be
// declared. It is fatal at worker startup.
var ErrVariableCreation = errors.New("variable creation failed")

// Creator declares global parameters.
type Creator interface {
	Create(ctx context.Context, spec param.Spec) error
}

// Pair is one local/global association.
type Pair struct {
	Local  param.Spec
	Global param.Spec
}

// Map is an immutable bijection between local and global parameter names.
type Map struct {
	pairs    []Pair
	toGlobal map[string]string
	toLocal  map[string]string
}

// GlobalName returns the global name for a local name.
func GlobalName(local string) string {
	return GlobalPrefix + local
}

// Build declares a global parameter of the same shape and dtype for every
// local spec, in name order, and returns the resulting map. Declaring is
// idempotent, so every worker may build the map against the same store.
func Build(ctx context.Context, specs []param.Spec, store Creator) (*Map, error) {
	sorted := slices.Clone(specs)
	slices.SortFunc(sorted, func(a, b param.Spec) int { return strings.Compare(a.Name, b.Name) })

	m := &Map{
		pairs:    make([]Pair, 0, len(sorted)),
		toGlobal: make(map[string]string, len(sorted)),
		toLocal:  make(map[string]string, len(sorted)),
	}
	for _, local := range sorted {
		if err := local.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVariableCreation, err)
		}
		if _, dup := m.toGlobal[local.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate local parameter %s", ErrVariableCreation, local.Name)
		}
		global := local.Rename(GlobalName(local.Name))
		if err := store.Create(ctx, global); err != nil {
			return nil, fmt.Errorf("%w: declare %s: %w", ErrVariableCreation, global.Name, err)
		}
		m.pairs = append(m.pairs, Pair{Local: local.Rename(local.Name), Global: global})
		m.toGlobal[local.Name] = global.Name
		m.toLocal[global.Name] = local.Name
	}
	return m, nil
}

// Global returns the global name paired with local.
func (m *Map) Global(local string) (string, bool) {
	g, ok := m.toGlobal[local]
	return g, ok
}

// Local returns the local name paired with global.
func (m *Map) Local(global string) (string, bool) {
	l, ok := m.toLocal[global]
	return l, ok
}

// Pairs returns every association, sorted by local name.
func (m *Map) Pairs() []Pair {
	out := make([]Pair, len(m.pairs))
	for i, p := range m.pairs {
		out[i] = Pair{Local: p.Local.Rename(p.Local.Name), Global: p.Global.Rename(p.Global.Name)}
	}
	return out
}

// GlobalNames returns the global names, in local-name order.
func (m *Map) GlobalNames() []string {
	out := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		out[i] = p.Global.Name
	}
	return out
}

// Len returns the number of pairs.
func (m *Map) Len() int {
	return len(m.pairs)
}
