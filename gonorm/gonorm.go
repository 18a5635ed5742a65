// Package gonorm provides batch normalization for fully-connected
// (2D, batch-major) inputs: training and inference forward passes,
// exact gradients through the batch statistics, running-statistic
// bookkeeping, and versioned persistence of layer state.
package gonorm

import (
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/GoNorm/internal/checkpoint"
	"github.com/FlavioCFOliveira/GoNorm/internal/layer"
	"github.com/FlavioCFOliveira/GoNorm/internal/tensor"
)

// Re-export common types for easier access
type (
	Layer       = layer.Layer
	BatchNorm1D = layer.BatchNorm1D
	Tensor      = tensor.Tensor
	ShapeError  = layer.ShapeError
	StateError  = layer.StateError
)

// Default hyperparameters used by BatchNorm.
const (
	DefaultEps      = 1e-5
	DefaultMomentum = 0.1
)

// BatchNorm creates a batch normalization layer with learnable affine
// parameters and the default eps and momentum.
func BatchNorm(numFeatures int) *BatchNorm1D {
	return layer.NewBatchNorm1D(numFeatures, DefaultEps, DefaultMomentum, true)
}

// BatchNormWithConfig creates a batch normalization layer with
// explicit eps, momentum and affine settings.
func BatchNormWithConfig(numFeatures int, eps, momentum float64, affine bool) *BatchNorm1D {
	return layer.NewBatchNorm1D(numFeatures, eps, momentum, affine)
}

// Tensors
func NewTensor(shape []int, data []float64) (*Tensor, error) {
	return tensor.New(shape, data)
}

// FromGonum copies a gonum matrix into a 2D tensor.
func FromGonum(m mat.Matrix) *Tensor {
	return tensor.FromGonum(m)
}

// Model Persistence
func Save(filename string, b *BatchNorm1D) error {
	return checkpoint.Save(filename, b)
}

func Load(filename string) (*BatchNorm1D, error) {
	return checkpoint.Load(filename)
}

func Encode(w io.Writer, b *BatchNorm1D) error {
	return checkpoint.Encode(w, b)
}

func Decode(r io.Reader) (*BatchNorm1D, error) {
	return checkpoint.Decode(r)
}
