// Package tensor provides the minimal dense tensor type consumed by
// the normalization layers.
package tensor

import (
	"fmt"
)

// Tensor is a multi-dimensional array of float64.
// Storage is always contiguous row-major; converting from a strided
// source (see FromGonum) copies into contiguous form.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New creates a tensor over data with the given shape.
// The data slice is adopted, not copied.
func New(shape []int, data []float64) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("tensor: negative dimension in shape %v", shape)
		}
		size *= dim
	}
	if len(data) != size {
		return nil, fmt.Errorf("tensor: data length (%d) does not match shape %v (%d elements)", len(data), shape, size)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// MustNew is New but panics on a shape mismatch.
func MustNew(shape []int, data []float64) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{Shape: shape, Data: make([]float64, size)}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: shape, Data: data}
}
