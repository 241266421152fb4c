// Package param defines the parameter model shared by local replicas, the
// global parameter store and the wire protocol between them.
//
// A parameter is identified by a stable string name and has a fixed shape and
// dtype for the lifetime of a run. Its value is a Tensor: a Spec plus flat
// row-major float64 elements. Float32 parameters are stored as float64 but
// every write is rounded through float32, so local and global forms of the
// same parameter round identically.
//
// Gradients travel as GradientTuple values, one Gradient per parameter in the
// order the parameter set was declared. Mean averages a window of tuples
// element-wise, independently per parameter.
package param
