package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC_TELEMETRY", "PAIRING_MAX_SKEW",
		"SIM_INTERVAL", "SIM_ANOMALY_RATE", "SIM_SEED", "LOG_LEVEL", "STORE_RAW_READINGS", "MAX_DEVICES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.True(t, strings.HasPrefix(cfg.MQTTClientID, "anomaly-detector-"))
	assert.Len(t, cfg.MQTTClientID, len("anomaly-detector-")+8)
	assert.Equal(t, "anomaly/{device_id}/telemetry", cfg.MQTTTopicTelemetry)
	assert.Equal(t, 2*time.Second, cfg.PairingMaxSkew)
	assert.Equal(t, 5*time.Second, cfg.SimInterval)
	assert.Equal(t, 0.03, cfg.SimAnomalyRate)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.StoreRawReadings)
	assert.Equal(t, 64, cfg.MaxDevices)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MQTT_CLIENT_ID", "bench-01")
	t.Setenv("PAIRING_MAX_SKEW", "750ms")
	t.Setenv("SIM_ANOMALY_RATE", "0.2")
	t.Setenv("SIM_SEED", "42")
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("STORE_RAW_READINGS", "false")
	t.Setenv("MAX_DEVICES", "8")

	cfg := Load()
	assert.Equal(t, "bench-01", cfg.MQTTClientID)
	assert.Equal(t, 750*time.Millisecond, cfg.PairingMaxSkew)
	assert.Equal(t, 0.2, cfg.SimAnomalyRate)
	assert.Equal(t, int64(42), cfg.SimSeed)
	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.False(t, cfg.StoreRawReadings)
	assert.Equal(t, 8, cfg.MaxDevices)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PAIRING_MAX_SKEW", "soon")
	t.Setenv("SIM_ANOMALY_RATE", "lots")
	t.Setenv("SIM_SEED", "x")

	cfg := Load()
	assert.Equal(t, 2*time.Second, cfg.PairingMaxSkew)
	assert.Equal(t, 0.03, cfg.SimAnomalyRate)
	assert.Equal(t, int64(0), cfg.SimSeed)
}
