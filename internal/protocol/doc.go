// Package protocol moves parameters between a worker's replica and the
// global store.
//
// A synchronization is a push followed by a pull. The push applies the
// window's averaged gradients to the global parameters with the global
// optimizer and then increments the global step; the pull copies every
// global value back over the replica. Within one worker the pull starts only
// after the push returned. Across workers nothing is ordered: each store
// operation is atomic for the one parameter it touches and no more, so a
// pull may interleave with another worker's push, and a push that fails part
// way leaves the parameters it already updated in place.
//
// Before training, the chief copies its replica up with InitializeGlobal
// and every worker copies the result down with PullInitial.
package protocol
