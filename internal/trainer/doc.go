// Package trainer runs one task of an adag cluster.
//
// NewRole picks the role once from configuration. A ParameterServerRole
// serves its shard of the global parameters until its context ends. A
// WorkerRole bootstraps against the parameter servers, trains until the
// global step reaches the configured ceiling and then exits:
//
//	wait for every ps /health        (backoff, bootstrap only)
//	declare global counterparts      (mirror.Build)
//	chief:     copy local -> global, sleep startup grace
//	non-chief: wait for the chief's initialization marker
//	pull global -> local once
//	loop:
//	    global step >= ceiling?  stop
//	    T local steps, average   (window.Run)
//	    push average, pull       (protocol.Synchronizer)
//	    sleep step pacing
//	sleep shutdown grace
//
// The ceiling is checked before each push, so a single worker never pushes
// past it; concurrent workers that read the step at the same moment may
// overshoot by at most one push each.
package trainer
