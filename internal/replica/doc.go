// Package replica holds a worker's private copy of the trainable parameters
// together with its local step counter.
//
// A Replica is read and written by the worker's training loop and read
// concurrently by its /info handler; all access goes through one lock.
package replica
