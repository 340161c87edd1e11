package services

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/anomaly"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/models"
)

// DetectorFactory builds the detector for a newly seen device
type DetectorFactory func(deviceID string) *anomaly.Detector

// DefaultDetectorFactory gives every device its own detector backed by the
// embedded autoencoder
func DefaultDetectorFactory(deviceID string) *anomaly.Detector {
	return anomaly.NewDetector(
		anomaly.NewModelOracle(anomaly.DefaultModel()),
		anomaly.WithLogger(log.WithField("device_id", deviceID)),
	)
}

// DetectionService runs one detector per device. All detectors are owned by
// the Start goroutine; other readers go through the StatusBoard.
type DetectionService struct {
	factory   DetectorFactory
	detectors map[string]*anomaly.Detector
	board     *StatusBoard
	metrics   *metrics.Metrics

	// Input channel of paired samples
	SampleChan chan *models.SensorSample

	// Output channel of verdicts, may be nil
	TelemetryChan chan *models.Telemetry

	sendTimeout time.Duration
	maxDevices  int
	limitWarned bool
}

// DetectionServiceConfig holds configuration for detection service
type DetectionServiceConfig struct {
	TelemetryChannelSize int
	SendTimeout          time.Duration

	// Max devices with a detector, 0 means no limit. Samples from further
	// devices are dropped.
	MaxDevices int
}

// DefaultDetectionServiceConfig returns default configuration
func DefaultDetectionServiceConfig() DetectionServiceConfig {
	return DetectionServiceConfig{
		TelemetryChannelSize: 100,
		SendTimeout:          time.Second,
		MaxDevices:           64,
	}
}

// NewDetectionService creates a detection service reading from samples
func NewDetectionService(
	samples chan *models.SensorSample,
	factory DetectorFactory,
	board *StatusBoard,
	m *metrics.Metrics,
	config DetectionServiceConfig,
) *DetectionService {
	if factory == nil {
		factory = DefaultDetectorFactory
	}
	return &DetectionService{
		factory:       factory,
		detectors:     make(map[string]*anomaly.Detector),
		board:         board,
		metrics:       m,
		SampleChan:    samples,
		TelemetryChan: make(chan *models.Telemetry, config.TelemetryChannelSize),
		sendTimeout:   config.SendTimeout,
		maxDevices:    config.MaxDevices,
	}
}

// Start runs the detection loop until the context is cancelled or the
// sample channel is closed
func (ds *DetectionService) Start(ctx context.Context) {
	log.Info("DetectionService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Info("DetectionService: Context cancelled, shutting down...")
			return

		case sample, ok := <-ds.SampleChan:
			if !ok {
				log.Info("DetectionService: Sample channel closed, shutting down...")
				return
			}
			ds.Process(ctx, sample)
		}
	}
}

// Process runs one sample through its device's detector. Errors are logged
// and reflected in the status board, never returned: a bad sample or a
// failed inference must not stop the loop.
func (ds *DetectionService) Process(ctx context.Context, sample *models.SensorSample) {
	d, ok := ds.detector(sample.DeviceID)
	if !ok {
		ds.metrics.SampleOverDeviceLimit()
		return
	}

	status := models.DeviceStatus{
		DeviceID:    sample.DeviceID,
		LastSeen:    sample.Timestamp,
		Temperature: sample.Temperature,
		Humidity:    sample.Humidity,
		WindowSize:  d.WindowSize(),
		Threshold:   float64(d.Threshold()),
	}
	if prev, ok := ds.board.Get(sample.DeviceID); ok {
		status.HasVerdict = prev.HasVerdict
		status.Anomaly = prev.Anomaly
		status.Score = prev.Score
	}

	result, err := d.Observe(anomaly.Sample{
		Temperature: float32(sample.Temperature),
		Humidity:    float32(sample.Humidity),
	})

	var inferErr *anomaly.InferenceError
	switch {
	case err == nil:
		ds.metrics.SampleAccepted()
		ds.metrics.Verdict(sample.DeviceID, result.Anomalous, float64(result.Score))
		status.HasVerdict = true
		status.Anomaly = result.Anomalous
		status.Score = float64(result.Score)
		if result.Anomalous {
			log.WithFields(log.Fields{
				"device_id":   sample.DeviceID,
				"score":       result.Score,
				"threshold":   result.Threshold,
				"temperature": sample.Temperature,
				"humidity":    sample.Humidity,
			}).Warn("DetectionService: Anomaly detected")
		}
		ds.publish(ctx, sample, d, result)

	case errors.Is(err, anomaly.ErrWarmup):
		ds.metrics.SampleAccepted()

	case errors.Is(err, anomaly.ErrInvalidSample):
		ds.metrics.SampleRejected()
		status.LastError = err.Error()
		log.Warnf("DetectionService: Skipping sample from %s: %v", sample.DeviceID, err)

	case errors.Is(err, anomaly.ErrNotReady):
		ds.metrics.SampleNotReady()
		status.LastError = err.Error()

	case errors.As(err, &inferErr):
		// the sample is in the window; the next one is scored normally
		ds.metrics.SampleAccepted()
		ds.metrics.InferenceFailed()
		status.LastError = err.Error()
		log.Errorf("DetectionService: Inference failed for %s: %v", sample.DeviceID, err)

	default:
		status.LastError = err.Error()
		log.Errorf("DetectionService: Unexpected detector error for %s: %v", sample.DeviceID, err)
	}

	status.State = d.State().String()
	status.Collected = d.Collected()
	ds.board.Update(status)
	ds.metrics.SetDetectorState(sample.DeviceID, stateGauge(d.State()))
}

// detector returns the detector of a device, creating and initializing it
// on first use. A detector whose Init failed is kept and stays uninitialized.
// It reports false when a new device would exceed the device limit.
func (ds *DetectionService) detector(deviceID string) (*anomaly.Detector, bool) {
	if d, ok := ds.detectors[deviceID]; ok {
		return d, true
	}
	if ds.maxDevices > 0 && len(ds.detectors) >= ds.maxDevices {
		if !ds.limitWarned {
			log.Warnf("DetectionService: Device limit %d reached, dropping samples from new devices (first: %s)",
				ds.maxDevices, deviceID)
			ds.limitWarned = true
		} else {
			log.Debugf("DetectionService: Dropping sample from %s, device limit reached", deviceID)
		}
		return nil, false
	}

	d := ds.factory(deviceID)
	if err := d.Init(); err != nil {
		log.Errorf("DetectionService: Detector for %s failed to initialize: %v", deviceID, err)
	} else {
		log.Infof("DetectionService: Detector for %s ready, warming up with %d samples", deviceID, d.WindowSize())
	}
	ds.detectors[deviceID] = d
	return d, true
}

func (ds *DetectionService) publish(ctx context.Context, sample *models.SensorSample, d *anomaly.Detector, result anomaly.Result) {
	if ds.TelemetryChan == nil {
		return
	}

	t := &models.Telemetry{
		DeviceID:    sample.DeviceID,
		Timestamp:   sample.Timestamp,
		Temperature: sample.Temperature,
		Humidity:    sample.Humidity,
		State:       d.State().String(),
		Anomaly:     result.Anomalous,
		Score:       float64(result.Score),
		Threshold:   float64(result.Threshold),
	}

	select {
	case ds.TelemetryChan <- t:
	case <-ctx.Done():
	case <-time.After(ds.sendTimeout):
		log.Warnf("DetectionService: Telemetry channel full, dropping verdict for %s", sample.DeviceID)
	}
}

func stateGauge(s anomaly.State) float64 {
	switch s {
	case anomaly.StateWarmup:
		return metrics.StateWarmup
	case anomaly.StateDetecting:
		return metrics.StateDetecting
	default:
		return metrics.StateUninitialized
	}
}
