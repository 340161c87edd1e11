package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detector state gauge values
const (
	StateUninitialized = 0
	StateWarmup        = 1
	StateDetecting     = 2
)

// Metrics holds the detector and HTTP collectors. A nil *Metrics is valid
// and records nothing, so services can run without a registry.
type Metrics struct {
	samples           *prometheus.CounterVec
	verdicts          *prometheus.CounterVec
	inferenceFailures prometheus.Counter
	reconstructionErr *prometheus.GaugeVec
	detectorState     *prometheus.GaugeVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	gatherer          prometheus.Gatherer
}

// New creates the detector metrics and registers them on reg. When reg is
// nil the default Prometheus registry is used.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anomaly_samples_total",
			Help: "Sensor samples seen by the detectors, by outcome (accepted, rejected, not_ready, device_limit).",
		}, []string{"outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anomaly_verdicts_total",
			Help: "Detector verdicts by result (normal, anomalous).",
		}, []string{"result"}),
		inferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anomaly_inference_failures_total",
			Help: "Windows whose inference failed.",
		}),
		reconstructionErr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "anomaly_reconstruction_error",
			Help: "Latest reconstruction error per device.",
		}, []string{"device_id"}),
		detectorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "anomaly_detector_state",
			Help: "Detector state per device (0 uninitialized, 1 warmup, 2 detecting).",
		}, []string{"device_id"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: prometheus.DefaultGatherer,
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	reg.MustRegister(
		m.samples,
		m.verdicts,
		m.inferenceFailures,
		m.reconstructionErr,
		m.detectorState,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// SampleAccepted counts a sample that entered a detector window
func (m *Metrics) SampleAccepted() {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("accepted").Inc()
}

// SampleRejected counts an invalid reading that was skipped
func (m *Metrics) SampleRejected() {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("rejected").Inc()
}

// SampleNotReady counts a sample for a detector that never initialized
func (m *Metrics) SampleNotReady() {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("not_ready").Inc()
}

// SampleOverDeviceLimit counts a sample dropped because its device would
// exceed the detector limit
func (m *Metrics) SampleOverDeviceLimit() {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("device_limit").Inc()
}

// Verdict records a scored window for a device
func (m *Metrics) Verdict(deviceID string, anomalous bool, score float64) {
	if m == nil {
		return
	}
	result := "normal"
	if anomalous {
		result = "anomalous"
	}
	m.verdicts.WithLabelValues(result).Inc()
	m.reconstructionErr.WithLabelValues(deviceID).Set(score)
}

// InferenceFailed counts a window that produced no verdict
func (m *Metrics) InferenceFailed() {
	if m == nil {
		return
	}
	m.inferenceFailures.Inc()
}

// SetDetectorState sets the state gauge of a device; use the State* constants
func (m *Metrics) SetDetectorState(deviceID string, state float64) {
	if m == nil {
		return
	}
	m.detectorState.WithLabelValues(deviceID).Set(state)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and latency under route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

// Handler exposes the registry the metrics were registered on
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
