package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/aggregator"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/models"
)

// StatusReader is the read side of the detection status board
type StatusReader interface {
	Get(deviceID string) (models.DeviceStatus, bool)
	List() []models.DeviceStatus
}

// PairingReader exposes readings still waiting to be paired into samples
type PairingReader interface {
	PairingState(deviceID string) (aggregator.DeviceState, bool)
	PairingStates() []aggregator.DeviceState
}

// Server serves device status, pairing state and health over HTTP
type Server struct {
	statuses StatusReader
	pairing  PairingReader
	metrics  *metrics.Metrics

	// reports broker connectivity for /health, may be nil
	connected func() bool
}

// NewRouter builds the status API. pairing may be nil, which leaves the
// pairing routes out.
func NewRouter(statuses StatusReader, pairing PairingReader, m *metrics.Metrics, connected func() bool) *mux.Router {
	s := &Server{statuses: statuses, pairing: pairing, metrics: m, connected: connected}

	r := mux.NewRouter()
	r.Handle("/health", m.WrapHandler("health", http.HandlerFunc(s.health))).Methods(http.MethodGet)
	r.Handle("/devices", m.WrapHandler("devices", http.HandlerFunc(s.listDevices))).Methods(http.MethodGet)
	r.Handle("/devices/{id}/status", m.WrapHandler("device_status", http.HandlerFunc(s.deviceStatus))).Methods(http.MethodGet)
	if pairing != nil {
		r.Handle("/pairing", m.WrapHandler("pairing", http.HandlerFunc(s.listPairing))).Methods(http.MethodGet)
		r.Handle("/devices/{id}/pairing", m.WrapHandler("device_pairing", http.HandlerFunc(s.devicePairing))).Methods(http.MethodGet)
	}
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.connected != nil && !s.connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "mqtt": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses.List())
}

func (s *Server) deviceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.statuses.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listPairing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pairing.PairingStates())
}

func (s *Server) devicePairing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.pairing.PairingState(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("API: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
