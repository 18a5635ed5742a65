package layer

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/FlavioCFOliveira/GoNorm/internal/tensor"
)

// BatchNorm1D implements batch normalization for fully-connected
// inputs of shape [batch, features].
//
// In training mode each forward pass normalizes with the per-feature
// mean and (biased) variance of the current batch and folds an
// unbiased variance estimate into the running statistics. In
// inference mode the running statistics are used and nothing is
// mutated.
//
// The batch statistics of the most recent training forward pass are
// cached; the backward pass differentiates through them, so the
// input gradient carries the correction terms for the mean and the
// variance being functions of the batch.
type BatchNorm1D struct {
	// Normalization parameters
	numFeatures int
	eps         float64
	momentum    float64
	affine      bool

	// Training mode
	training bool

	// Learnable parameters (when affine is enabled)
	params []float64 // Contiguous gamma + beta
	gamma  []float64 // View of params
	beta   []float64 // View of params

	// Running statistics (for inference)
	runningMean []float64
	runningVar  []float64

	// Gradient buffers
	grads        []float64 // Contiguous gradGamma + gradBeta
	gradGammaBuf []float64 // View of grads
	gradBetaBuf  []float64 // View of grads
	gradInBuf    []float64
	outputBuf    []float64

	// Statistics cached by the most recent training forward pass
	savedMean   []float64
	savedInvStd []float64
	statsSaved  bool

	// Per-feature scratch
	varBuf     []float64
	unbiasBuf  []float64
	invStdBuf  []float64
	sumBuf     []float64
	sumXhatBuf []float64

	src rand.Source
}

// NewBatchNorm1D creates a batch normalization layer for inputs with
// numFeatures features. eps is added to the variance before the
// square root; momentum weighs the batch statistics in the running
// estimate update. When affine is true the layer learns a per-feature
// scale (gamma) and shift (beta).
func NewBatchNorm1D(numFeatures int, eps, momentum float64, affine bool) *BatchNorm1D {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("layer: batch norm feature count must be positive, got %d", numFeatures))
	}
	b := &BatchNorm1D{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		affine:      affine,
		training:    true,
		runningMean: make([]float64, numFeatures),
		runningVar:  make([]float64, numFeatures),
		savedMean:   make([]float64, numFeatures),
		savedInvStd: make([]float64, numFeatures),
		src:         rand.NewSource(uint64(time.Now().UnixNano())),
	}
	if affine {
		b.params = make([]float64, numFeatures*2)
		b.gamma = b.params[:numFeatures]
		b.beta = b.params[numFeatures:]
		b.grads = make([]float64, numFeatures*2)
		b.gradGammaBuf = b.grads[:numFeatures]
		b.gradBetaBuf = b.grads[numFeatures:]
	}
	b.Reset()
	return b
}

// Reset reinitializes the layer: running mean to zero, running
// variance to one, and (when affine) gamma drawn uniformly from
// (0, 1) with beta zeroed. The forward cache is invalidated.
func (b *BatchNorm1D) Reset() {
	for i := range b.runningMean {
		b.runningMean[i] = 0
	}
	for i := range b.runningVar {
		b.runningVar[i] = 1
	}
	if b.affine {
		u := distuv.Uniform{Min: 0, Max: 1, Src: b.src}
		for i := range b.gamma {
			b.gamma[i] = u.Rand()
		}
		for i := range b.beta {
			b.beta[i] = 0
		}
	}
	b.statsSaved = false
}

// checkInput validates that x is a 2D batch with the layer's feature
// count. Validation happens before any state is touched.
func (b *BatchNorm1D) checkInput(x *tensor.Tensor) error {
	if x.Rank() != 2 {
		return &ShapeError{
			Got:  fmt.Sprintf("%dD tensor", x.Rank()),
			Want: "2D tensor (batch, features)",
		}
	}
	if x.Dim(1) != b.numFeatures {
		return &ShapeError{
			Got:  fmt.Sprintf("%d-feature tensor", x.Dim(1)),
			Want: fmt.Sprintf("%d-feature tensor", b.numFeatures),
		}
	}
	return nil
}

// Forward normalizes x and applies the affine transform when the
// layer has one. The returned tensor reuses the layer's output
// buffer; it stays valid until the next Forward call.
func (b *BatchNorm1D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := b.checkInput(x); err != nil {
		return nil, err
	}

	n := x.Dim(0)
	f := b.numFeatures
	total := n * f
	if cap(b.outputBuf) < total {
		b.outputBuf = make([]float64, total)
	}
	out := b.outputBuf[:total]

	var mean, invStd []float64
	if b.training {
		b.computeBatchStats(x.Data, n)
		mean, invStd = b.savedMean, b.savedInvStd
	} else {
		if len(b.invStdBuf) != f {
			b.invStdBuf = make([]float64, f)
		}
		for j, v := range b.runningVar {
			b.invStdBuf[j] = 1 / math.Sqrt(v+b.eps)
		}
		mean, invStd = b.runningMean, b.invStdBuf
	}

	for i := 0; i < n; i++ {
		row := x.Data[i*f : (i+1)*f]
		dst := out[i*f : (i+1)*f]
		for j, v := range row {
			norm := (v - mean[j]) * invStd[j]
			if b.affine {
				dst[j] = b.gamma[j]*norm + b.beta[j]
			} else {
				dst[j] = norm
			}
		}
	}

	return tensor.MustNew([]int{n, f}, out), nil
}

// computeBatchStats fills savedMean and savedInvStd from the current
// batch and folds the batch statistics into the running estimates.
// The normalization itself uses the biased variance (divide by N);
// the running estimate uses the unbiased one (divide by N-1). With a
// single-row batch the N-1 correction is undefined, so the biased
// value is used instead.
func (b *BatchNorm1D) computeBatchStats(data []float64, n int) {
	f := b.numFeatures
	if len(b.varBuf) != f {
		b.varBuf = make([]float64, f)
		b.unbiasBuf = make([]float64, f)
	}

	mean := b.savedMean
	for j := range mean {
		mean[j] = 0
	}
	for i := 0; i < n; i++ {
		floats.Add(mean, data[i*f:(i+1)*f])
	}
	floats.Scale(1/float64(n), mean)

	variance := b.varBuf
	for j := range variance {
		variance[j] = 0
	}
	for i := 0; i < n; i++ {
		row := data[i*f : (i+1)*f]
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	floats.Scale(1/float64(n), variance)

	for j, v := range variance {
		b.savedInvStd[j] = 1 / math.Sqrt(v+b.eps)
	}
	b.statsSaved = true

	copy(b.unbiasBuf, variance)
	if n > 1 {
		floats.Scale(float64(n)/float64(n-1), b.unbiasBuf)
	}
	b.updateRunningStats(mean, b.unbiasBuf)
}

// updateRunningStats folds batch statistics into the running
// estimates: running = (1-momentum)*running + momentum*batch.
func (b *BatchNorm1D) updateRunningStats(batchMean, batchVar []float64) {
	floats.Scale(1-b.momentum, b.runningMean)
	floats.AddScaled(b.runningMean, b.momentum, batchMean)
	floats.Scale(1-b.momentum, b.runningVar)
	floats.AddScaled(b.runningVar, b.momentum, batchVar)
}

// gradOutputs selects which gradients the shared backward routine
// produces.
type gradOutputs struct {
	input  bool
	params bool
}

// backward is the shared differentiation routine behind Backward,
// UpdateGradInput and AccGradParameters. It differentiates the
// training-mode forward computation through the cached batch
// statistics, so both the mean and the variance are treated as
// functions of the batch. scale multiplies the parameter-gradient
// contributions before they are accumulated.
func (b *BatchNorm1D) backward(x, gradOutput *tensor.Tensor, scale float64, want gradOutputs) (*tensor.Tensor, error) {
	if err := b.checkInput(x); err != nil {
		return nil, err
	}
	if err := b.checkInput(gradOutput); err != nil {
		return nil, err
	}
	if !b.statsSaved {
		return nil, &StateError{Op: "Backward"}
	}

	n := x.Dim(0)
	f := b.numFeatures
	total := n * f

	if len(b.sumBuf) != f {
		b.sumBuf = make([]float64, f)
		b.sumXhatBuf = make([]float64, f)
	}
	sumDy := b.sumBuf
	sumDyXhat := b.sumXhatBuf
	for j := 0; j < f; j++ {
		sumDy[j] = 0
		sumDyXhat[j] = 0
	}

	mean := b.savedMean
	invStd := b.savedInvStd

	for i := 0; i < n; i++ {
		xRow := x.Data[i*f : (i+1)*f]
		gRow := gradOutput.Data[i*f : (i+1)*f]
		for j, g := range gRow {
			xhat := (xRow[j] - mean[j]) * invStd[j]
			sumDy[j] += g
			sumDyXhat[j] += g * xhat
		}
	}

	if want.params && b.affine {
		floats.AddScaled(b.gradGammaBuf, scale, sumDyXhat)
		floats.AddScaled(b.gradBetaBuf, scale, sumDy)
	}

	if !want.input {
		return nil, nil
	}

	if cap(b.gradInBuf) < total {
		b.gradInBuf = make([]float64, total)
	}
	gradIn := b.gradInBuf[:total]

	invN := 1 / float64(n)
	for i := 0; i < n; i++ {
		xRow := x.Data[i*f : (i+1)*f]
		gRow := gradOutput.Data[i*f : (i+1)*f]
		dst := gradIn[i*f : (i+1)*f]
		for j, g := range gRow {
			w := 1.0
			if b.affine {
				w = b.gamma[j]
			}
			xhat := (xRow[j] - mean[j]) * invStd[j]
			meanDy := w * sumDy[j] * invN
			meanDyXhat := w * sumDyXhat[j] * invN
			dst[j] = invStd[j] * (w*g - meanDy - xhat*meanDyXhat)
		}
	}

	return tensor.MustNew([]int{n, f}, gradIn), nil
}

// Backward computes the gradient with respect to the input and
// accumulates the parameter gradients with a scale factor of 1.
// The returned tensor reuses the layer's gradient buffer; it stays
// valid until the next backward call.
func (b *BatchNorm1D) Backward(x, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	return b.backward(x, gradOutput, 1, gradOutputs{input: true, params: true})
}

// BackwardScaled is Backward with an explicit scale factor on the
// accumulated parameter gradients, for gradient-accumulation schemes
// that weigh repeated calls.
func (b *BatchNorm1D) BackwardScaled(x, gradOutput *tensor.Tensor, scale float64) (*tensor.Tensor, error) {
	return b.backward(x, gradOutput, scale, gradOutputs{input: true, params: true})
}

// UpdateGradInput computes only the input gradient. The parameter
// gradient accumulators are left untouched.
func (b *BatchNorm1D) UpdateGradInput(x, gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	return b.backward(x, gradOutput, 1, gradOutputs{input: true})
}

// AccGradParameters accumulates only the parameter gradients, scaled
// by scale. No input gradient is computed.
func (b *BatchNorm1D) AccGradParameters(x, gradOutput *tensor.Tensor, scale float64) error {
	_, err := b.backward(x, gradOutput, scale, gradOutputs{params: true})
	return err
}

// ClearState drops the cached forward statistics and scratch buffers.
// Running statistics and learnable parameters are kept. A backward
// call after ClearState fails with a StateError until the next
// training forward pass.
func (b *BatchNorm1D) ClearState() {
	b.outputBuf = nil
	b.gradInBuf = nil
	b.varBuf = nil
	b.unbiasBuf = nil
	b.invStdBuf = nil
	b.sumBuf = nil
	b.sumXhatBuf = nil
	b.statsSaved = false
}

// SetRunningStats overwrites the running mean and variance, e.g. when
// restoring a persisted layer.
func (b *BatchNorm1D) SetRunningStats(mean, variance []float64) error {
	if len(mean) != b.numFeatures || len(variance) != b.numFeatures {
		return &ShapeError{
			Got:  fmt.Sprintf("%d-element mean, %d-element variance", len(mean), len(variance)),
			Want: fmt.Sprintf("%d elements each", b.numFeatures),
		}
	}
	copy(b.runningMean, mean)
	copy(b.runningVar, variance)
	return nil
}

// Params returns the layer parameters (gamma then beta) as a flat
// view. Empty for non-affine layers.
func (b *BatchNorm1D) Params() []float64 { return b.params }

// SetParams copies parameters from a flat gamma-then-beta slice.
func (b *BatchNorm1D) SetParams(params []float64) {
	if !b.affine || len(params) == 0 {
		return
	}
	copy(b.params, params)
}

// Gradients returns the accumulated parameter gradients (gradGamma
// then gradBeta) as a flat view. Empty for non-affine layers.
func (b *BatchNorm1D) Gradients() []float64 { return b.grads }

// SetGradients copies gradients from a flat slice.
func (b *BatchNorm1D) SetGradients(gradients []float64) {
	if !b.affine || len(gradients) == 0 {
		return
	}
	copy(b.grads, gradients)
}

// ClearGradients zeroes the accumulated parameter gradients.
func (b *BatchNorm1D) ClearGradients() {
	for i := range b.grads {
		b.grads[i] = 0
	}
}

// InSize returns the input feature count.
func (b *BatchNorm1D) InSize() int { return b.numFeatures }

// OutSize returns the output feature count.
func (b *BatchNorm1D) OutSize() int { return b.numFeatures }

func (b *BatchNorm1D) GetGamma() []float64 {
	if !b.affine {
		return nil
	}
	return b.gamma
}

func (b *BatchNorm1D) GetBeta() []float64 {
	if !b.affine {
		return nil
	}
	return b.beta
}

func (b *BatchNorm1D) GetRunningMean() []float64 { return b.runningMean }
func (b *BatchNorm1D) GetRunningVar() []float64  { return b.runningVar }
func (b *BatchNorm1D) GetEps() float64           { return b.eps }
func (b *BatchNorm1D) GetMomentum() float64      { return b.momentum }
func (b *BatchNorm1D) IsAffine() bool            { return b.affine }
func (b *BatchNorm1D) SetTraining(training bool) { b.training = training }
func (b *BatchNorm1D) IsTraining() bool          { return b.training }
