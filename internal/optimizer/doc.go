// Package optimizer provides the loss objectives a worker trains against and
// the gradient-descent optimizer used for both local and global updates.
//
// An Optimizer mutates parameters only through the Variables interface and
// advances exactly one StepCounter per ApplyGradients call. The same
// implementation serves a worker's replica (local step) and the global store
// (global step); each use holds its own instance and learning rate.
package optimizer
