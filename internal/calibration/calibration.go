// Package calibration derives the detector threshold offline from normal
// data: every window of normal samples is scored with the quantized model
// and the threshold is mean + k*std of those scores.
package calibration

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"iot-anomaly/internal/anomaly"
)

// DefaultK is the number of standard deviations above the mean
const DefaultK = 3.0

var ErrNoWindows = errors.New("no windows to calibrate on")

// Scorer returns the reconstruction error of a flattened window.
// *anomaly.Pipeline implements it.
type Scorer interface {
	Score(window []float32) (float32, error)
}

// Stats summarizes the reconstruction errors of the calibration windows
type Stats struct {
	Count     int
	Failed    int
	Mean      float64
	Std       float64
	P99       float64
	Max       float64
	K         float64
	Threshold float64
}

// NewScorer initializes an oracle for modelData and wraps it in a
// pipeline, the same path the detector scores windows with
func NewScorer(modelData []byte) (*anomaly.Pipeline, *anomaly.ModelOracle, error) {
	oracle := anomaly.NewModelOracle(modelData)
	if err := oracle.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model: %w", err)
	}
	return anomaly.NewPipeline(oracle, anomaly.InputDim), oracle, nil
}

// BuildWindows slides an n-sample window over samples with stride 1 and
// returns each window flattened as [t0,h0,...,tn-1,hn-1]
func BuildWindows(samples []anomaly.Sample, n int) [][]float32 {
	if n <= 0 || len(samples) < n {
		return nil
	}

	windows := make([][]float32, 0, len(samples)-n+1)
	for start := 0; start+n <= len(samples); start++ {
		w := make([]float32, 0, 2*n)
		for _, s := range samples[start : start+n] {
			w = append(w, s.Temperature, s.Humidity)
		}
		windows = append(windows, w)
	}
	return windows
}

// Calibrate scores every window and computes the threshold. The standard
// deviation is the population one. Windows whose scoring fails are counted
// and left out.
func Calibrate(scorer Scorer, windows [][]float32, k float64) (Stats, error) {
	if len(windows) == 0 {
		return Stats{}, ErrNoWindows
	}

	scores := make([]float64, 0, len(windows))
	failed := 0
	for i, w := range windows {
		score, err := scorer.Score(w)
		if err != nil || math.IsNaN(float64(score)) {
			failed++
			log.Debugf("Calibration: window %d skipped: %v", i, err)
			continue
		}
		scores = append(scores, float64(score))

		if (i+1)%1000 == 0 {
			log.Infof("Calibration: processed %d/%d windows", i+1, len(windows))
		}
	}
	if len(scores) == 0 {
		return Stats{Failed: failed}, fmt.Errorf("all %d windows failed to score: %w", failed, ErrNoWindows)
	}

	mean, std := stat.PopMeanStdDev(scores, nil)
	sort.Float64s(scores)

	return Stats{
		Count:     len(scores),
		Failed:    failed,
		Mean:      mean,
		Std:       std,
		P99:       stat.Quantile(0.99, stat.Empirical, scores, nil),
		Max:       scores[len(scores)-1],
		K:         k,
		Threshold: mean + k*std,
	}, nil
}

// Report writes the stats in key=value form followed by the constants to
// compile into the detector
func (s Stats) Report(w io.Writer, in, out anomaly.Params) error {
	_, err := fmt.Fprintf(w, `# uint8 model threshold stats
windows=%d
failed=%d
mean=%g
std=%g
p99=%g
max=%g
k=%g
threshold=%g

// internal/anomaly
DefaultThreshold = float32(%.6f)
// input  scale=%v zero_point=%d
// output scale=%v zero_point=%d
`, s.Count, s.Failed, s.Mean, s.Std, s.P99, s.Max, s.K, s.Threshold,
		s.Threshold, in.Scale, in.ZeroPoint, out.Scale, out.ZeroPoint)
	return err
}
