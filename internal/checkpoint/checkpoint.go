// Package checkpoint persists batch normalization layer state using
// gob encoding, with a format version for backward-compatible loads.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/FlavioCFOliveira/GoNorm/internal/layer"
)

// FormatVersion is the current snapshot format. Version 1 predates
// tracking the variance directly: it stored the running standard
// deviation used for normalization instead.
const FormatVersion = 2

// snapshot is the gob wire form of a BatchNorm1D.
type snapshot struct {
	Version     int
	NumFeatures int
	Eps         float64
	Momentum    float64
	Affine      bool
	RunningMean []float64
	RunningVar  []float64 // version >= 2
	RunningStd  []float64 // version 1 only
	Params      []float64 // gamma then beta, affine layers only
}

// Encode writes the layer state to w in the current format.
func Encode(w io.Writer, b *layer.BatchNorm1D) error {
	s := snapshot{
		Version:     FormatVersion,
		NumFeatures: b.InSize(),
		Eps:         b.GetEps(),
		Momentum:    b.GetMomentum(),
		Affine:      b.IsAffine(),
		RunningMean: append([]float64(nil), b.GetRunningMean()...),
		RunningVar:  append([]float64(nil), b.GetRunningVar()...),
	}
	if s.Affine {
		s.Params = append([]float64(nil), b.Params()...)
	}
	if err := gob.NewEncoder(w).Encode(&s); err != nil {
		return fmt.Errorf("failed to encode batch norm state: %w", err)
	}
	return nil
}

// Decode reads layer state written by any supported format version
// and reconstructs the layer. Version 1 snapshots carried the running
// standard deviation; it is converted once at load via
// var = std^-2 - eps.
func Decode(r io.Reader) (*layer.BatchNorm1D, error) {
	var s snapshot
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode batch norm state: %w", err)
	}
	if s.Version < 1 || s.Version > FormatVersion {
		return nil, fmt.Errorf("unsupported batch norm format version %d", s.Version)
	}
	if s.NumFeatures <= 0 {
		return nil, fmt.Errorf("invalid feature count %d in batch norm state", s.NumFeatures)
	}

	if s.Version < 2 {
		s.RunningVar = make([]float64, len(s.RunningStd))
		for i, std := range s.RunningStd {
			s.RunningVar[i] = math.Pow(std, -2) - s.Eps
		}
	}

	b := layer.NewBatchNorm1D(s.NumFeatures, s.Eps, s.Momentum, s.Affine)
	if err := b.SetRunningStats(s.RunningMean, s.RunningVar); err != nil {
		return nil, fmt.Errorf("failed to restore running statistics: %w", err)
	}
	if s.Affine {
		b.SetParams(s.Params)
	}
	return b, nil
}

// Save writes the layer state to a file.
func Save(filename string, b *layer.BatchNorm1D) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return Encode(file, b)
}

// Load reads a layer from a file written by Save, migrating legacy
// formats as needed.
func Load(filename string) (*layer.BatchNorm1D, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Decode(file)
}
