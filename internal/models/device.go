package models

import "time"

// Device represents an IoT device in the system
type Device struct {
	DeviceID     string                 `json:"device_id"`
	Name         string                 `json:"name"`
	Location     string                 `json:"location"`
	RegisteredAt time.Time              `json:"registered_at"`
	LastSeen     time.Time              `json:"last_seen"`
	IsActive     bool                   `json:"is_active"`
	Config       map[string]interface{} `json:"config"`
}

// DeviceStatus is the latest detector state of a device as seen by readers
// outside the detection loop
type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	State       string    `json:"state"`
	Collected   int       `json:"collected"`
	WindowSize  int       `json:"window_size"`
	LastSeen    time.Time `json:"last_seen"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	HasVerdict  bool      `json:"has_verdict"`
	Anomaly     bool      `json:"anomaly"`
	Score       float64   `json:"score"`
	Threshold   float64   `json:"threshold"`
	LastError   string    `json:"last_error,omitempty"`
}
