// Package shard implements the parameter-server partition: the unit of the
// global parameter store hosted by one ps process.
//
// # Overview
//
// A cluster with N ps tasks has N shards. Shard i hosts every global
// parameter that placement.ShardFor maps to i, and shard placement.StepShard
// additionally hosts the global step counter. A shard refuses to declare a
// parameter it does not own, so processes configured with mismatched ps
// tables fail at startup.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            SHARD                     │
//	├─────────────────────────────────────┤
//	│  ┌──────────────────────────────┐   │
//	│  │   ParameterStore             │   │
//	│  │   - per-parameter locks      │   │
//	│  │   - additive updates         │   │
//	│  └──────────────────────────────┘   │
//	│  ┌──────────────────────────────┐   │
//	│  │   Metadata                   │   │
//	│  │   - ps task index            │   │
//	│  │   - step host flag           │   │
//	│  │   - operation counters       │   │
//	│  └──────────────────────────────┘   │
//	└─────────────────────────────────────┘
//
// # Lifecycle
//
// Shards start in ShardStateServing. When the ps process shuts down it moves
// the shard to ShardStateStopped; further writes fail with ErrStopped so a
// late push surfaces as an error at the worker instead of vanishing.
//
// # Statistics
//
// Every operation increments a lock-free counter. GetStats and Info return
// snapshots that the ps exposes on its /status endpoint and as metrics.
package shard
