package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-anomaly/internal/aggregator"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/models"
	"iot-anomaly/internal/services"
)

func newTestRouter(t *testing.T, connected func() bool) (http.Handler, *services.StatusBoard) {
	t.Helper()
	board := services.NewStatusBoard()
	m := metrics.New(prometheus.NewRegistry())
	return NewRouter(board, nil, m, connected), board
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	up := true
	h, _ := newTestRouter(t, func() bool { return up })

	assert.Equal(t, http.StatusOK, get(h, "/health").Code)

	up = false
	rec := get(h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "disconnected")
}

func TestDeviceStatus(t *testing.T) {
	h, board := newTestRouter(t, nil)
	board.Update(models.DeviceStatus{DeviceID: "dev-2", State: "warmup", Collected: 3, WindowSize: 10})
	board.Update(models.DeviceStatus{DeviceID: "dev-1", State: "detecting", HasVerdict: true, Anomaly: true, Score: 255.25})

	rec := get(h, "/devices/dev-1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Anomaly)
	assert.Equal(t, "detecting", st.State)

	rec = get(h, "/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "dev-1", all[0].DeviceID)

	assert.Equal(t, http.StatusNotFound, get(h, "/devices/nope/status").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	get(h, "/health")

	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{route="health",status="200"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/devices", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// pairingAggregator serves pairing state straight from an aggregator
type pairingAggregator struct {
	*aggregator.SensorAggregator
}

func (p pairingAggregator) PairingState(id string) (aggregator.DeviceState, bool) {
	return p.GetDeviceState(id)
}

func (p pairingAggregator) PairingStates() []aggregator.DeviceState {
	var states []aggregator.DeviceState
	for _, id := range p.GetAllDevices() {
		st, _ := p.GetDeviceState(id)
		states = append(states, st)
	}
	return states
}

func TestPairingRoutes(t *testing.T) {
	agg := aggregator.NewSensorAggregator(2 * time.Second)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	agg.UpdateTemperature(&models.TemperatureReading{DeviceID: "dev-1", Timestamp: ts, Value: 21.5})

	h := NewRouter(services.NewStatusBoard(), pairingAggregator{agg}, metrics.New(prometheus.NewRegistry()), nil)

	rec := get(h, "/devices/dev-1/pairing")
	require.Equal(t, http.StatusOK, rec.Code)
	var st aggregator.DeviceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.NotNil(t, st.PendingTemp)
	assert.Equal(t, 21.5, st.PendingTemp.Value)
	assert.Nil(t, st.PendingHumidity)
	assert.Zero(t, st.Paired)

	rec = get(h, "/pairing")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []aggregator.DeviceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusNotFound, get(h, "/devices/nope/pairing").Code)
}

func TestPairingRoutesOptional(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	assert.Equal(t, http.StatusNotFound, get(h, "/pairing").Code)
}
