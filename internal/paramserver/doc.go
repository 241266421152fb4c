// Package paramserver exposes a parameter-server shard over HTTP and
// provides the clients workers use to reach it.
//
// Server routes (JSON bodies):
//
//	GET  /health                      200 while serving, 503 once stopped
//	GET  /params                      {"names": [...]}
//	POST /params                      declare, body param.Spec
//	GET  /params/{name}               param.Tensor
//	PUT  /params/{name}               assign, body {"values": [...]}
//	POST /params/{name}/update        add, body {"delta": [...]}
//	GET  /step                        {"step": n}
//	POST /step                        increment, {"step": n}
//	GET  /status                      StatusResponse
//	POST /init                        mark initialized, body {"run_id": "..."}
//	GET  /metrics                     prometheus exposition
//
// Errors map to status codes as follows and back again in Client:
// 404 storage.ErrParameterNotFound, 409 storage.ErrSpecMismatch,
// 400 ErrRejected for malformed input, 421 shard.ErrNotOwner,
// 501 shard.ErrNoStepCounter, 503 shard.ErrStopped.
//
// ShardedStore combines one Client per ps task into a single
// storage.ParameterStore, routing every parameter by placement.
package paramserver
