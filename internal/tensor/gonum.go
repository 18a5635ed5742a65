package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FromGonum copies a gonum matrix into a 2D tensor. The element-wise
// copy also normalizes transposed or otherwise strided sources into
// contiguous row-major storage.
func FromGonum(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = m.At(i, j)
		}
	}
	return &Tensor{Shape: []int{r, c}, Data: data}
}

// ToGonum returns the tensor as a gonum Dense matrix. The returned
// matrix owns its own storage. Only 2D tensors can be converted.
func (t *Tensor) ToGonum() (*mat.Dense, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("tensor: cannot convert %dD tensor to a matrix", t.Rank())
	}
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return mat.NewDense(t.Shape[0], t.Shape[1], data), nil
}
