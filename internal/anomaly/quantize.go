package anomaly

import (
	"fmt"
	"math"
)

// Params is the affine quantization of one tensor: real = (q - ZeroPoint) * Scale.
// Input and output tensors carry their own Params and must not be mixed up.
type Params struct {
	Scale     float32
	ZeroPoint int32
}

// Validate rejects parameters that cannot describe a uint8 tensor
func (p Params) Validate() error {
	s := float64(p.Scale)
	if p.Scale == 0 || !(s > 0) || math.IsInf(s, 0) {
		return configError("quantization", fmt.Errorf("invalid scale %v", p.Scale))
	}
	if p.ZeroPoint < 0 || p.ZeroPoint > math.MaxUint8 {
		return configError("quantization", fmt.Errorf("zero point %d outside uint8 range", p.ZeroPoint))
	}
	return nil
}

// Encode quantizes src into dst with q = round(v/scale) + zero_point.
// Results outside [0,255] saturate instead of wrapping; NaN saturates to 0.
// The mapping is lossy: the error is at most scale/2 inside the range.
func Encode(dst []uint8, src []float32, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(dst) != len(src) {
		return fmt.Errorf("encode: dst has %d elements, src has %d", len(dst), len(src))
	}

	for i, v := range src {
		q := math.Round(float64(v/p.Scale)) + float64(p.ZeroPoint)
		switch {
		case !(q >= 0):
			q = 0
		case q > math.MaxUint8:
			q = math.MaxUint8
		}
		dst[i] = uint8(q)
	}
	return nil
}

// Decode dequantizes src into dst with v = (q - zero_point) * scale.
// Callers pass the parameters of the tensor that produced src.
func Decode(dst []float32, src []uint8, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(dst) != len(src) {
		return fmt.Errorf("decode: dst has %d elements, src has %d", len(dst), len(src))
	}

	for i, q := range src {
		dst[i] = float32(int32(q)-p.ZeroPoint) * p.Scale
	}
	return nil
}
