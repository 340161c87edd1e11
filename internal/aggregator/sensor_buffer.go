package aggregator

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/models"
)

// DeviceState holds the pending, not yet paired readings of a device
type DeviceState struct {
	DeviceID        string                     `json:"device_id"`
	PendingTemp     *models.TemperatureReading `json:"pending_temperature,omitempty"`
	PendingHumidity *models.HumidityReading    `json:"pending_humidity,omitempty"`
	LastPaired      time.Time                  `json:"last_paired"`
	Paired          uint64                     `json:"paired"`
}

// SensorAggregator pairs temperature and humidity readings of the same
// device into samples. The device publishes both values once per sampling
// interval on separate topics, so a pair is formed when both kinds are
// pending and their timestamps are at most maxSkew apart.
type SensorAggregator struct {
	devices map[string]*DeviceState
	maxSkew time.Duration
	mu      sync.Mutex
}

// NewSensorAggregator creates a new sensor aggregator
func NewSensorAggregator(maxSkew time.Duration) *SensorAggregator {
	return &SensorAggregator{
		devices: make(map[string]*DeviceState),
		maxSkew: maxSkew,
	}
}

// getOrCreateDevice must be called with sa.mu held
func (sa *SensorAggregator) getOrCreateDevice(deviceID string) *DeviceState {
	if device, exists := sa.devices[deviceID]; exists {
		return device
	}

	device := &DeviceState{
		DeviceID: deviceID,
	}
	sa.devices[deviceID] = device
	return device
}

// UpdateTemperature records a temperature reading and returns the sample it
// completes, if any
func (sa *SensorAggregator) UpdateTemperature(reading *models.TemperatureReading) *models.SensorSample {
	sa.mu.Lock()
	device := sa.getOrCreateDevice(reading.DeviceID)
	if device.PendingTemp != nil {
		log.Debugf("Aggregator: replacing unpaired temperature for %s", reading.DeviceID)
	}
	device.PendingTemp = reading
	sample := sa.tryPair(device)
	sa.mu.Unlock()
	return sample
}

// UpdateHumidity records a humidity reading and returns the sample it
// completes, if any
func (sa *SensorAggregator) UpdateHumidity(reading *models.HumidityReading) *models.SensorSample {
	sa.mu.Lock()
	device := sa.getOrCreateDevice(reading.DeviceID)
	if device.PendingHumidity != nil {
		log.Debugf("Aggregator: replacing unpaired humidity for %s", reading.DeviceID)
	}
	device.PendingHumidity = reading
	sample := sa.tryPair(device)
	sa.mu.Unlock()
	return sample
}

// tryPair must be called with sa.mu held
func (sa *SensorAggregator) tryPair(device *DeviceState) *models.SensorSample {
	temp, hum := device.PendingTemp, device.PendingHumidity
	if temp == nil || hum == nil {
		return nil
	}

	skew := temp.Timestamp.Sub(hum.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > sa.maxSkew {
		// keep only the newer reading; the older one will never find its partner
		if temp.Timestamp.After(hum.Timestamp) {
			device.PendingHumidity = nil
		} else {
			device.PendingTemp = nil
		}
		log.Debugf("Aggregator: readings for %s are %s apart, dropping the older one", device.DeviceID, skew)
		return nil
	}

	ts := temp.Timestamp
	if hum.Timestamp.After(ts) {
		ts = hum.Timestamp
	}

	sample := &models.SensorSample{
		Timestamp:   ts,
		DeviceID:    device.DeviceID,
		Temperature: temp.Value,
		Humidity:    hum.Value,
	}
	device.PendingTemp = nil
	device.PendingHumidity = nil
	device.LastPaired = ts
	device.Paired++
	return sample
}

// GetDeviceState returns a copy of the current state of a device. It is
// safe to call from any goroutine.
func (sa *SensorAggregator) GetDeviceState(deviceID string) (DeviceState, bool) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	device, ok := sa.devices[deviceID]
	if !ok {
		return DeviceState{}, false
	}
	return *device, true
}

// GetAllDevices returns all device IDs
func (sa *SensorAggregator) GetAllDevices() []string {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	devices := make([]string, 0, len(sa.devices))
	for deviceID := range sa.devices {
		devices = append(devices, deviceID)
	}
	return devices
}
