// Package placement maps global parameters onto parameter-server shards.
//
// # Overview
//
// A cluster runs one process per ps task and every ps task hosts one shard of
// the global parameters. Placement is a pure function of the parameter name
// and the shard count, so every worker derives the same table from the same
// cluster spec with no coordination traffic. The global step counter always
// lives on StepShard.
//
// # Usage
//
//	registry, err := placement.NewRegistry(spec.PS)
//	if err != nil {
//	    return err
//	}
//	shard := registry.ShardFor("g/a")
//	addr := registry.AddrFor("g/a")
//
// # Consistency
//
// Processes configured with different ps tables would place the same name on
// different shards. Shards refuse to declare parameters they do not own
// (see package shard), which turns such a misconfiguration into a startup
// error instead of silently diverging state.
package placement
