// Package layer provides normalization layer implementations.
package layer

import (
	"github.com/FlavioCFOliveira/GoNorm/internal/tensor"
)

// Layer is a normalization layer with explicit forward and backward
// passes. Forward and Backward validate the input shape and return a
// *ShapeError on rank or feature-count mismatches; Backward returns a
// *StateError when no training forward pass has run yet.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(x, gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Params() []float64
	SetParams([]float64)
	Gradients() []float64
	SetGradients([]float64)
	ClearGradients()
	InSize() int
	OutSize() int
}
