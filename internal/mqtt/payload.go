package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errEmptyPayload = errors.New("empty payload")

// readingPayload is the JSON form a sensor may publish instead of a bare number
type readingPayload struct {
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// parseReading accepts either a bare float ("29.5") or
// {"value": 29.5, "timestamp": "2025-03-01T12:00:00Z"}. A missing or
// unparseable timestamp is replaced with now.
func parseReading(payload []byte, now time.Time) (float64, time.Time, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, time.Time{}, errEmptyPayload
	}

	if !strings.HasPrefix(text, "{") {
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to parse value %q: %w", text, err)
		}
		return value, now, nil
	}

	var p readingPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	if p.Value == nil {
		return 0, time.Time{}, errors.New("reading has no value")
	}

	ts := now
	if p.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			ts = parsed
		}
	}
	return *p.Value, ts, nil
}

// extractDeviceID extracts device ID from MQTT topic
// Example: "sensor/sensor-001/temperature" -> "sensor-001"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
