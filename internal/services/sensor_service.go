package services

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/aggregator"
	"iot-anomaly/internal/models"
)

// SensorStore is the persistence the sensor service writes to.
// *database.ClickHouseDB implements it.
type SensorStore interface {
	SaveTemperature(ctx context.Context, reading *models.TemperatureReading) error
	SaveHumidity(ctx context.Context, reading *models.HumidityReading) error
	SaveSample(ctx context.Context, sample *models.SensorSample) error
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// SensorService handles sensor data processing, persistence, and forwarding
type SensorService struct {
	db         SensorStore
	aggregator *aggregator.SensorAggregator

	// Input channels from MQTT subscribers
	TempChan     chan *models.TemperatureReading
	HumidityChan chan *models.HumidityReading

	// Output channel of paired samples, read by the detection service
	SampleChan chan *models.SensorSample

	storeRaw        bool
	forwardTimeout  time.Duration
	refreshInterval time.Duration

	mu      sync.Mutex
	devices map[string]*knownDevice
	now     func() time.Time
}

type knownDevice struct {
	registeredAt time.Time
	refreshedAt  time.Time
}

// SensorServiceConfig holds configuration for sensor service
type SensorServiceConfig struct {
	TempChannelSize     int
	HumidityChannelSize int
	SampleChannelSize   int

	// Max timestamp distance between readings paired into one sample
	PairingMaxSkew time.Duration

	// Persist raw readings in addition to paired samples
	StoreRawReadings bool

	// How long to wait on a full sample channel before dropping
	ForwardTimeout time.Duration

	// Minimum interval between device registry refreshes
	DeviceRefreshInterval time.Duration
}

// DefaultSensorServiceConfig returns default configuration
func DefaultSensorServiceConfig() SensorServiceConfig {
	return SensorServiceConfig{
		TempChannelSize:       100,
		HumidityChannelSize:   100,
		SampleChannelSize:     100,
		PairingMaxSkew:        2 * time.Second,
		StoreRawReadings:      true,
		ForwardTimeout:        time.Second,
		DeviceRefreshInterval: time.Minute,
	}
}

// NewSensorService creates a new sensor service
func NewSensorService(db SensorStore, config SensorServiceConfig) *SensorService {
	return &SensorService{
		db:              db,
		aggregator:      aggregator.NewSensorAggregator(config.PairingMaxSkew),
		TempChan:        make(chan *models.TemperatureReading, config.TempChannelSize),
		HumidityChan:    make(chan *models.HumidityReading, config.HumidityChannelSize),
		SampleChan:      make(chan *models.SensorSample, config.SampleChannelSize),
		storeRaw:        config.StoreRawReadings,
		forwardTimeout:  config.ForwardTimeout,
		refreshInterval: config.DeviceRefreshInterval,
		devices:         make(map[string]*knownDevice),
		now:             time.Now,
	}
}

// Start processes sensor data from channels until the context is cancelled.
// Both reading kinds are handled by one loop so samples of a device leave
// in the order their readings arrived.
func (s *SensorService) Start(ctx context.Context) {
	log.Info("SensorService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Info("SensorService: Shutting down...")
			return

		case reading, ok := <-s.TempChan:
			if !ok {
				s.TempChan = nil
				continue
			}
			s.processTemperature(ctx, reading)

		case reading, ok := <-s.HumidityChan:
			if !ok {
				s.HumidityChan = nil
				continue
			}
			s.processHumidity(ctx, reading)
		}
	}
}

// processTemperature handles a single temperature reading
func (s *SensorService) processTemperature(ctx context.Context, reading *models.TemperatureReading) {
	if s.storeRaw {
		if err := s.db.SaveTemperature(ctx, reading); err != nil {
			log.Errorf("SensorService: Error saving temperature: %v", err)
		} else {
			log.Debugf("SensorService: Saved temperature: device=%s, value=%.2f°C", reading.DeviceID, reading.Value)
		}
	}

	s.registerDevice(ctx, reading.DeviceID)

	if sample := s.aggregator.UpdateTemperature(reading); sample != nil {
		s.forwardSample(ctx, sample)
	}
}

// processHumidity handles a single humidity reading
func (s *SensorService) processHumidity(ctx context.Context, reading *models.HumidityReading) {
	if s.storeRaw {
		if err := s.db.SaveHumidity(ctx, reading); err != nil {
			log.Errorf("SensorService: Error saving humidity: %v", err)
		} else {
			log.Debugf("SensorService: Saved humidity: device=%s, value=%.2f%%", reading.DeviceID, reading.Value)
		}
	}

	s.registerDevice(ctx, reading.DeviceID)

	if sample := s.aggregator.UpdateHumidity(reading); sample != nil {
		s.forwardSample(ctx, sample)
	}
}

// forwardSample persists a paired sample and hands it to detection. A
// storage failure does not stop detection.
func (s *SensorService) forwardSample(ctx context.Context, sample *models.SensorSample) {
	if err := s.db.SaveSample(ctx, sample); err != nil {
		log.Errorf("SensorService: Error saving sample: %v", err)
	}

	select {
	case s.SampleChan <- sample:
	case <-ctx.Done():
	case <-time.After(s.forwardTimeout):
		log.Warnf("SensorService: Sample channel full, dropping sample from %s", sample.DeviceID)
	}
}

// registerDevice auto-registers a device on first message and refreshes
// its last_seen at most once per refresh interval
func (s *SensorService) registerDevice(ctx context.Context, deviceID string) {
	now := s.now()

	s.mu.Lock()
	known, seen := s.devices[deviceID]
	if !seen {
		known = &knownDevice{registeredAt: now}
		s.devices[deviceID] = known
	} else if now.Sub(known.refreshedAt) < s.refreshInterval {
		s.mu.Unlock()
		return
	}
	known.refreshedAt = now
	registeredAt := known.registeredAt
	s.mu.Unlock()

	device := &models.Device{
		DeviceID:     deviceID,
		Name:         deviceID,
		Location:     "Unknown",
		RegisteredAt: registeredAt,
		LastSeen:     now,
		IsActive:     true,
		Config:       make(map[string]interface{}),
	}

	// Best effort - don't fail if registration fails
	if err := s.db.UpsertDevice(ctx, device); err != nil {
		log.Errorf("SensorService: Error registering device %s: %v", deviceID, err)
		return
	}

	if !seen {
		log.Infof("SensorService: Registered device %s", deviceID)
	}
}

// PairingState returns the readings of a device still waiting for their
// partner. Safe to call while Start runs.
func (s *SensorService) PairingState(deviceID string) (aggregator.DeviceState, bool) {
	return s.aggregator.GetDeviceState(deviceID)
}

// PairingStates returns the pairing state of every device seen, sorted by ID
func (s *SensorService) PairingStates() []aggregator.DeviceState {
	ids := s.aggregator.GetAllDevices()
	sort.Strings(ids)

	states := make([]aggregator.DeviceState, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.aggregator.GetDeviceState(id); ok {
			states = append(states, st)
		}
	}
	return states
}
