package anomaly

import "math"

// MSE returns the mean squared error between a window and its reconstruction.
// Differences are taken in float32 and accumulated in float64, matching the
// arithmetic the threshold was calibrated with.
func MSE(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return float32(math.NaN())
	}

	var s float64
	for i := range a {
		d := float64(a[i] - b[i])
		s += d * d
	}
	return float32(s / float64(len(a)))
}
