// Package storage defines the global parameter store contract and its
// in-memory engine, the authoritative home of every trainable parameter on a
// parameter-server shard.
//
// # Overview
//
// Workers never compute against the global store directly. They read it to
// refresh their local replicas and write it to publish averaged gradients.
// Any worker may write any parameter at any time; the store takes no
// cluster-wide lock and offers no compare-and-swap.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│     Synchronization protocol        │
//	│       (push / pull per worker)      │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│        ParameterStore               │
//	│  Create / Read / Assign /           │
//	│  ApplyUpdate / GlobalStep           │
//	└─────────────────────────────────────┘
//	          │                  │
//	          ▼                  ▼
//	┌────────────────┐  ┌────────────────┐
//	│  MemoryStore   │  │ paramserver    │
//	│  (ps process)  │  │ Client (HTTP)  │
//	└────────────────┘  └────────────────┘
//
// # Consistency Contract
//
// The store guarantees per-parameter read-after-write consistency and nothing
// more:
//   - Each Read, Assign and ApplyUpdate is atomic for the parameter it touches
//   - A Read that starts after an update to that parameter returned sees it
//   - There is no ordering across parameters, so a reader can observe another
//     worker's push half applied
//   - ApplyUpdate is additive; two concurrent updates both land
//
// The global step counter is a single atomic integer and increments by exactly
// one per IncrementGlobalStep call regardless of the caller.
//
// # Implementations
//
// MemoryStore: In-memory storage
//   - One RWMutex per parameter, one for the parameter map
//   - Values are copied on read and on write
//   - No persistence (state lost on restart)
//
// paramserver.Client: the same contract over HTTP to a remote shard.
//
// # Error Handling
//
//   - ErrParameterNotFound: Read/Assign/ApplyUpdate on an undeclared name
//   - ErrSpecMismatch: Create with a layout different from the stored one
//   - param.ErrShapeMismatch: values or deltas of the wrong length
//   - param.ErrInvalidSpec: Create with an invalid spec
package storage
