// Package placement decides which parameter-server shard hosts each global
// parameter. See doc.go for complete package documentation.
package placement

import (
	"errors"
	"fmt"
	"hash/fnv"

	"golang.org/x/exp/slices"
)

// StepShard is the shard that hosts the global step counter.
const StepShard = 0

// ErrNoShards is returned when a registry is built from an empty address table.
var ErrNoShards = errors.New("placement requires at least one parameter-server shard")

// Assignment binds a parameter-server shard to the address serving it.
//
// Assignments are immutable once created. The registry returns copies to
// prevent external modification.
type Assignment struct {
	// Addr is the base URL of the ps task hosting the shard,
	// e.g. "http://localhost:2222".
	Addr string `json:"addr"`

	// ShardID is the ps task index.
	// Valid range: [0, numShards)
	ShardID int `json:"shard_id"`
}

// ShardFor maps a parameter name to a shard using FNV-1a.
//
// Every process computes the same placement from the same name and shard
// count, which is what lets workers address the same global parameters
// without coordinating.
func ShardFor(name string, numShards int) int {
	if numShards <= 0 {
		return -1
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(numShards))
}

// Registry is the static shard-to-address table of a cluster.
//
//	┌─────────────────────────────────────┐
//	│            Registry                 │
//	├─────────────────────────────────────┤
//	│  assignments: shardID → ps address  │
//	├─────────────────────────────────────┤
//	│  name → FNV → shard → address       │
//	│  "g/a" → 0x1a2b → 1 → ps task 1     │
//	└─────────────────────────────────────┘
//
// Cluster membership is fixed before startup, so the registry is built once
// and never mutated; it is safe for concurrent use without locking.
type Registry struct {
	assignments []Assignment
}

// NewRegistry assigns shard i to psAddrs[i].
//
// Parameters:
//   - psAddrs: ps task addresses in task index order (must be non-empty)
//
// Example:
//
//	registry, err := NewRegistry([]string{"http://localhost:2222"})
//	addr, _ := registry.AddrFor("g/a")
func NewRegistry(psAddrs []string) (*Registry, error) {
	if len(psAddrs) == 0 {
		return nil, ErrNoShards
	}
	r := &Registry{assignments: make([]Assignment, len(psAddrs))}
	for i, addr := range psAddrs {
		if addr == "" {
			return nil, fmt.Errorf("ps task %d has an empty address", i)
		}
		r.assignments[i] = Assignment{ShardID: i, Addr: addr}
	}
	return r, nil
}

// NumShards returns the number of parameter-server shards.
func (r *Registry) NumShards() int {
	return len(r.assignments)
}

// ShardFor returns the shard hosting the named parameter.
func (r *Registry) ShardFor(name string) int {
	return ShardFor(name, len(r.assignments))
}

// AddrFor returns the address of the shard hosting the named parameter.
func (r *Registry) AddrFor(name string) string {
	return r.assignments[r.ShardFor(name)].Addr
}

// Assignment returns the assignment of a shard.
func (r *Registry) Assignment(shardID int) (Assignment, error) {
	if shardID < 0 || shardID >= len(r.assignments) {
		return Assignment{}, fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, len(r.assignments))
	}
	return r.assignments[shardID], nil
}

// Assignments returns every assignment ordered by shard ID.
func (r *Registry) Assignments() []Assignment {
	return slices.Clone(r.assignments)
}

// Group buckets names by the shard hosting them, preserving input order
// within each bucket.
func (r *Registry) Group(names []string) map[int][]string {
	groups := make(map[int][]string)
	for _, name := range names {
		id := r.ShardFor(name)
		groups[id] = append(groups[id], name)
	}
	return groups
}
