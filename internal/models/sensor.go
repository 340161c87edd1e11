package models

import "time"

// TemperatureReading represents temperature sensor data
type TemperatureReading struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Value     float64   `json:"value"` // Celsius
}

// HumidityReading represents humidity sensor data
type HumidityReading struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Value     float64   `json:"value"` // Percentage 0-100
}

// SensorSample is a temperature/humidity pair taken in the same sampling interval
type SensorSample struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

// Telemetry is the live detector output published for each scored sample.
// It is never stored.
type Telemetry struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	State       string    `json:"state"`
	Anomaly     bool      `json:"anomaly"`
	Score       float64   `json:"score"`
	Threshold   float64   `json:"threshold"`
}
