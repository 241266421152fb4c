// Package cluster holds what every process of a training cluster agrees on
// before startup: the static address table, task identities, the JSON wire
// messages exchanged with parameter-server shards and the small HTTP
// helpers used to send them.
//
// # Overview
//
// A cluster is a fixed set of ps tasks and worker tasks. The table is known
// identically by every process; there is no registration or discovery.
//
//	     ┌──────────┐   ┌──────────┐
//	     │  ps[0]   │   │  ps[1]   │    global parameters,
//	     │ shard 0  │   │ shard 1  │    global step on ps[0]
//	     └────┬─────┘   └────┬─────┘
//	          │  push/pull   │
//	   ┌──────┴──────┬───────┴──────┐
//	   │             │              │
//	┌──▼───────┐ ┌───▼──────┐ ┌─────▼────┐
//	│worker[0] │ │worker[1] │ │worker[2] │   local replicas
//	│ (chief)  │ │          │ │          │
//	└──────────┘ └──────────┘ └──────────┘
//
// # Communication Protocol
//
// All traffic is HTTP/JSON. PostJSON, PutJSON and GetJSON return a
// *StatusError for non-2xx responses so callers can map status codes back to
// their own sentinel errors.
//
// # Liveness
//
// WaitHealthy polls /health with exponential backoff and is used while a
// worker bootstraps. HealthMonitor keeps polling afterwards and reports
// shards that fail three consecutive checks. Neither retries training
// traffic.
package cluster
