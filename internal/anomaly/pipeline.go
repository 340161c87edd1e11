package anomaly

import (
	"fmt"
	"math"
)

// Pipeline scores one flattened window: encode, infer, decode, MSE.
// Its scratch buffers are reused between calls, so a Pipeline belongs to
// a single goroutine.
type Pipeline struct {
	oracle Oracle
	dim    int

	quantIn  []uint8
	quantOut []uint8
	recon    []float32
}

// NewPipeline creates a pipeline for windows of dim scalars.
// The oracle must be initialized before Score is called.
func NewPipeline(oracle Oracle, dim int) *Pipeline {
	return &Pipeline{
		oracle:   oracle,
		dim:      dim,
		quantIn:  make([]uint8, dim),
		quantOut: make([]uint8, dim),
		recon:    make([]float32, dim),
	}
}

// Score returns the reconstruction error of window. Non-finite values are
// rejected before encoding, where they would silently saturate.
func (p *Pipeline) Score(window []float32) (float32, error) {
	if len(window) != p.dim {
		return 0, fmt.Errorf("window has %d values, want %d", len(window), p.dim)
	}
	for i, v := range window {
		if !finite(v) {
			return 0, fmt.Errorf("%w: window value %d is %v", ErrInvalidSample, i, v)
		}
	}

	if err := Encode(p.quantIn, window, p.oracle.InputParams()); err != nil {
		return 0, err
	}
	if err := p.oracle.Infer(p.quantOut, p.quantIn); err != nil {
		return 0, err
	}
	if err := Decode(p.recon, p.quantOut, p.oracle.OutputParams()); err != nil {
		return 0, err
	}

	score := MSE(window, p.recon)
	if !finite(score) {
		return 0, &InferenceError{Err: fmt.Errorf("reconstruction error is %v", score)}
	}
	return score, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
