package anomaly

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// Physical limits of the temperature/humidity sensor. Readings outside are
// treated as failed reads.
const (
	MinTemperature = -40.0
	MaxTemperature = 125.0
	MinHumidity    = 0.0
	MaxHumidity    = 100.0
)

// Validate reports whether the sample is a usable reading
func (s Sample) Validate() error {
	t, h := float64(s.Temperature), float64(s.Humidity)
	switch {
	case math.IsNaN(t) || math.IsNaN(h):
		return fmt.Errorf("%w: NaN reading", ErrInvalidSample)
	case t < MinTemperature || t > MaxTemperature:
		return fmt.Errorf("%w: temperature %.2f out of range", ErrInvalidSample, t)
	case h < MinHumidity || h > MaxHumidity:
		return fmt.Errorf("%w: humidity %.2f out of range", ErrInvalidSample, h)
	}
	return nil
}

// State is the detector lifecycle. Transitions only move forward.
type State int32

const (
	StateUninitialized State = iota
	StateWarmup
	StateDetecting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWarmup:
		return "warmup"
	case StateDetecting:
		return "detecting"
	default:
		return "unknown"
	}
}

// Result is the verdict for one window snapshot
type Result struct {
	Anomalous bool
	Score     float32
	Threshold float32
}

// Detector classifies a sliding window of samples with an autoencoder.
// It owns its window and oracle and is not safe for concurrent use;
// publish its results if other goroutines need them.
type Detector struct {
	oracle    Oracle
	window    *Window
	pipeline  *Pipeline
	threshold float32
	state     State
	initErr   error
	flat      []float32
	logger    *log.Entry
}

// Option customizes a Detector
type Option func(*Detector)

// WithThreshold overrides the compiled-in threshold
func WithThreshold(threshold float32) Option {
	return func(d *Detector) {
		d.threshold = threshold
	}
}

// WithWindowSize sets N; it must match the oracle's input length (2N)
func WithWindowSize(n int) Option {
	return func(d *Detector) {
		d.window = NewWindow(n)
	}
}

// WithLogger attaches fields (e.g. device id) to detector logs
func WithLogger(entry *log.Entry) Option {
	return func(d *Detector) {
		d.logger = entry
	}
}

// NewDetector creates an uninitialized detector
func NewDetector(oracle Oracle, opts ...Option) *Detector {
	d := &Detector{
		oracle:    oracle,
		window:    NewWindow(WindowSize),
		threshold: DefaultThreshold,
		state:     StateUninitialized,
		logger:    log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(d)
	}

	dim := 2 * d.window.Capacity()
	d.pipeline = NewPipeline(oracle, dim)
	d.flat = make([]float32, 0, dim)
	return d
}

// Init initializes the oracle and enters warmup. It is safe to call
// repeatedly; after the first success further calls do nothing. A failure
// is final: the detector stays uninitialized, Observe reports not ready and
// later Init calls return the first error without touching the oracle.
func (d *Detector) Init() error {
	if d.initErr != nil {
		return d.initErr
	}
	if d.state != StateUninitialized {
		return nil
	}

	if err := d.oracle.Init(); err != nil {
		if !errors.Is(err, ErrConfiguration) {
			err = configError("oracle", err)
		}
		return d.fail(err)
	}

	if want := 2 * d.window.Capacity(); d.oracle.InputLen() != want {
		return d.fail(configError("window", fmt.Errorf(
			"window of %d samples needs %d inputs, oracle takes %d",
			d.window.Capacity(), want, d.oracle.InputLen())))
	}

	d.state = StateWarmup
	d.logger.WithField("window", d.window.Capacity()).Info("Detector: initialized, warming up")
	return nil
}

func (d *Detector) fail(err error) error {
	d.initErr = err
	d.logger.WithError(err).Error("Detector: initialization failed, detection disabled")
	return err
}

// State returns the lifecycle state
func (d *Detector) State() State {
	return d.state
}

// Threshold returns the decision threshold
func (d *Detector) Threshold() float32 {
	return d.threshold
}

// WindowSize returns N
func (d *Detector) WindowSize() int {
	return d.window.Capacity()
}

// Collected returns the number of samples in the window
func (d *Detector) Collected() int {
	return d.window.Len()
}

// Observe feeds one sample through the detector.
//
// It returns ErrNotReady before Init succeeded, ErrInvalidSample for readings
// that must be skipped (the window is untouched) and ErrWarmup until N
// samples have been collected. Once detecting, every sample advances the
// window and is scored; an InferenceError means the sample was kept but the
// cycle produced no verdict.
func (d *Detector) Observe(s Sample) (Result, error) {
	if d.state == StateUninitialized {
		return Result{}, ErrNotReady
	}
	if err := s.Validate(); err != nil {
		return Result{}, err
	}

	d.window.Push(s)

	if d.state == StateWarmup {
		d.logger.Debugf("Detector: warmup %d/%d: T=%.2f H=%.2f",
			d.window.Len(), d.window.Capacity(), s.Temperature, s.Humidity)
		if d.window.Ready() {
			d.state = StateDetecting
			d.logger.Info("Detector: warmup complete, starting detection")
		}
		return Result{}, ErrWarmup
	}

	d.flat = d.window.Flatten(d.flat)
	return d.Evaluate(d.flat)
}

// Evaluate scores a flattened window of 2N values against the threshold.
// A score equal to the threshold is normal. A window holding NaN or Inf
// yields ErrInvalidSample and no verdict.
func (d *Detector) Evaluate(window []float32) (Result, error) {
	switch d.state {
	case StateUninitialized:
		return Result{}, ErrNotReady
	case StateWarmup:
		return Result{}, ErrWarmup
	}

	score, err := d.pipeline.Score(window)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Anomalous: score > d.threshold,
		Score:     score,
		Threshold: d.threshold,
	}
	d.logger.Debugf("Detector: MSE=%.5f TH=%.5f anomalous=%v", score, d.threshold, result.Anomalous)
	return result, nil
}

// CheckWindow reports whether the flattened window is anomalous. It returns
// false while the detector is not ready and when scoring fails.
func (d *Detector) CheckWindow(window []float32) bool {
	result, err := d.Evaluate(window)
	if err != nil {
		if !errors.Is(err, ErrNotReady) && !errors.Is(err, ErrWarmup) {
			d.logger.WithError(err).Warn("Detector: no verdict this cycle")
		}
		return false
	}
	return result.Anomalous
}
