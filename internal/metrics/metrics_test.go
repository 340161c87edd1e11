package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SampleAccepted()
	m.SampleAccepted()
	m.SampleRejected()
	m.SampleOverDeviceLimit()
	m.Verdict("dev-1", false, 0.02)
	m.Verdict("dev-1", true, 255.25)
	m.InferenceFailed()
	m.SetDetectorState("dev-1", StateDetecting)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.samples.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues("device_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("normal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("anomalous")))
	assert.Equal(t, 255.25, testutil.ToFloat64(m.reconstructionErr.WithLabelValues("dev-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inferenceFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detectorState.WithLabelValues("dev-1")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SampleAccepted()
		m.SampleRejected()
		m.SampleNotReady()
		m.SampleOverDeviceLimit()
		m.Verdict("dev", true, 1)
		m.InferenceFailed()
		m.SetDetectorState("dev", StateWarmup)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Verdict("dev-7", true, 99)

	h := m.WrapHandler("metrics", m.Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `anomaly_reconstruction_error{device_id="dev-7"} 99`), body)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("metrics", "200")))
}
