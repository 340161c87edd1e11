package anomaly

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError
	ErrConfiguration = errors.New("anomaly detector misconfigured")

	// ErrNotReady is returned while the detector is uninitialized
	ErrNotReady = errors.New("anomaly detector not ready")

	// ErrWarmup is returned while the window is still filling; no verdict is produced
	ErrWarmup = errors.New("anomaly detector warming up")

	// ErrInvalidSample marks a sensor reading that was skipped
	ErrInvalidSample = errors.New("invalid sensor sample")
)

// ConfigurationError is a fatal setup failure. The detector stays
// uninitialized until the process is restarted with a fixed build.
type ConfigurationError struct {
	Stage string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Stage, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrConfiguration) match any ConfigurationError
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configError(stage string, err error) error {
	return &ConfigurationError{Stage: stage, Err: err}
}

// InferenceError is a failed forward pass; the cycle yields no verdict
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
