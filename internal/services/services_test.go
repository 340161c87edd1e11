package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-anomaly/internal/anomaly"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/models"
)

// memoryStore is an in-memory SensorStore
type memoryStore struct {
	mu        sync.Mutex
	temps     []*models.TemperatureReading
	hums      []*models.HumidityReading
	samples   []*models.SensorSample
	devices   []*models.Device
	sampleErr error
}

func (m *memoryStore) SaveTemperature(_ context.Context, r *models.TemperatureReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temps = append(m.temps, r)
	return nil
}

func (m *memoryStore) SaveHumidity(_ context.Context, r *models.HumidityReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hums = append(m.hums, r)
	return nil
}

func (m *memoryStore) SaveSample(_ context.Context, s *models.SensorSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sampleErr != nil {
		return m.sampleErr
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *memoryStore) UpsertDevice(_ context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
	return nil
}

// failingOracle reconstructs perfectly until told to fail
type failingOracle struct {
	fail bool
}

func (o *failingOracle) Init() error { return nil }

func (o *failingOracle) Infer(dst, src []uint8) error {
	if o.fail {
		return &anomaly.InferenceError{Err: errors.New("invoke failed")}
	}
	copy(dst, src)
	return nil
}

func (o *failingOracle) InputParams() anomaly.Params  { return anomaly.Params{Scale: 0.25} }
func (o *failingOracle) OutputParams() anomaly.Params { return anomaly.Params{Scale: 0.25} }
func (o *failingOracle) InputLen() int                { return anomaly.InputDim }

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(device string, i int, temp, hum float64) *models.SensorSample {
	return &models.SensorSample{
		DeviceID:    device,
		Timestamp:   t0.Add(time.Duration(i) * 5 * time.Second),
		Temperature: temp,
		Humidity:    hum,
	}
}

func newTestDetection(factory DetectorFactory) (*DetectionService, *StatusBoard) {
	board := NewStatusBoard()
	ds := NewDetectionService(
		make(chan *models.SensorSample, 1),
		factory,
		board,
		metrics.New(prometheus.NewRegistry()),
		DetectionServiceConfig{TelemetryChannelSize: 64, SendTimeout: 10 * time.Millisecond},
	)
	return ds, board
}

func TestDetectionServiceWarmupThenVerdicts(t *testing.T) {
	ds, board := newTestDetection(nil)
	ctx := context.Background()

	for i := 0; i < anomaly.WindowSize; i++ {
		ds.Process(ctx, sampleAt("dev-1", i, 20, 50))
	}
	st, ok := board.Get("dev-1")
	require.True(t, ok)
	assert.Equal(t, "detecting", st.State)
	assert.False(t, st.HasVerdict)
	assert.Equal(t, anomaly.WindowSize, st.Collected)
	assert.Empty(t, ds.TelemetryChan)

	ds.Process(ctx, sampleAt("dev-1", anomaly.WindowSize, 20, 50))
	normal := <-ds.TelemetryChan
	assert.False(t, normal.Anomaly)
	assert.Less(t, normal.Score, 1.0)

	ds.Process(ctx, sampleAt("dev-1", anomaly.WindowSize+1, 80, 95))
	spike := <-ds.TelemetryChan
	assert.True(t, spike.Anomaly)
	assert.Greater(t, spike.Score, spike.Threshold)
	assert.Equal(t, 80.0, spike.Temperature)

	st, _ = board.Get("dev-1")
	assert.True(t, st.HasVerdict)
	assert.True(t, st.Anomaly)
	assert.InDelta(t, float64(anomaly.DefaultThreshold), st.Threshold, 1e-6)
}

func TestDetectionServiceKeepsDevicesIndependent(t *testing.T) {
	ds, board := newTestDetection(nil)
	ctx := context.Background()

	for i := 0; i < anomaly.WindowSize; i++ {
		ds.Process(ctx, sampleAt("dev-a", i, 21, 48))
	}
	ds.Process(ctx, sampleAt("dev-b", 0, 21, 48))

	a, _ := board.Get("dev-a")
	b, _ := board.Get("dev-b")
	assert.Equal(t, "detecting", a.State)
	assert.Equal(t, "warmup", b.State)
	assert.Equal(t, 1, b.Collected)

	list := board.List()
	require.Len(t, list, 2)
	assert.Equal(t, "dev-a", list[0].DeviceID)
}

func TestDetectionServiceCapsDevices(t *testing.T) {
	created := 0
	ds := NewDetectionService(
		make(chan *models.SensorSample, 1),
		func(id string) *anomaly.Detector {
			created++
			return DefaultDetectorFactory(id)
		},
		NewStatusBoard(),
		metrics.New(prometheus.NewRegistry()),
		DetectionServiceConfig{TelemetryChannelSize: 4, SendTimeout: 10 * time.Millisecond, MaxDevices: 2},
	)
	ctx := context.Background()

	for i, id := range []string{"dev-1", "dev-2", "dev-3", "dev-4", "dev-1"} {
		ds.Process(ctx, sampleAt(id, i, 20, 50))
	}

	assert.Equal(t, 2, created)
	assert.Len(t, ds.detectors, 2)

	_, ok := ds.board.Get("dev-3")
	assert.False(t, ok)
	st, ok := ds.board.Get("dev-1")
	require.True(t, ok)
	assert.Equal(t, 2, st.Collected)
}

func TestDetectionServiceRejectsInvalidSamples(t *testing.T) {
	ds, board := newTestDetection(nil)

	ds.Process(context.Background(), sampleAt("dev-1", 0, -55, 50))
	st, _ := board.Get("dev-1")
	assert.Equal(t, "warmup", st.State)
	assert.Zero(t, st.Collected)
	assert.Contains(t, st.LastError, "invalid sensor sample")
}

func TestDetectionServiceInitFailureStaysUninitialized(t *testing.T) {
	calls := 0
	ds, board := newTestDetection(func(string) *anomaly.Detector {
		calls++
		return anomaly.NewDetector(anomaly.NewModelOracle(anomaly.DefaultModel(), anomaly.WithArenaSize(64)))
	})

	for i := 0; i < 2*anomaly.WindowSize; i++ {
		ds.Process(context.Background(), sampleAt("dev-1", i, 20, 50))
	}

	st, _ := board.Get("dev-1")
	assert.Equal(t, "uninitialized", st.State)
	assert.Contains(t, st.LastError, "not ready")
	assert.Equal(t, 1, calls)
	assert.Empty(t, ds.TelemetryChan)
}

func TestDetectionServiceSurvivesInferenceFailure(t *testing.T) {
	oracle := &failingOracle{}
	ds, board := newTestDetection(func(string) *anomaly.Detector {
		return anomaly.NewDetector(oracle)
	})
	ctx := context.Background()

	for i := 0; i < anomaly.WindowSize; i++ {
		ds.Process(ctx, sampleAt("dev-1", i, 20, 50))
	}

	oracle.fail = true
	ds.Process(ctx, sampleAt("dev-1", 10, 20, 50))
	st, _ := board.Get("dev-1")
	assert.Equal(t, "detecting", st.State)
	assert.Contains(t, st.LastError, "inference failed")
	assert.Empty(t, ds.TelemetryChan)

	oracle.fail = false
	ds.Process(ctx, sampleAt("dev-1", 11, 20, 50))
	verdict := <-ds.TelemetryChan
	assert.False(t, verdict.Anomaly)
	st, _ = board.Get("dev-1")
	assert.Empty(t, st.LastError)
}

func TestDetectionServiceStartStops(t *testing.T) {
	ds, board := newTestDetection(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ds.Start(ctx)
		close(done)
	}()

	ds.SampleChan <- sampleAt("dev-1", 0, 20, 50)
	require.Eventually(t, func() bool {
		_, ok := board.Get("dev-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detection loop did not stop")
	}
}

func TestSensorServicePairsAndForwards(t *testing.T) {
	store := &memoryStore{}
	cfg := DefaultSensorServiceConfig()
	svc := NewSensorService(store, cfg)
	ctx := context.Background()

	svc.processTemperature(ctx, &models.TemperatureReading{DeviceID: "dev-1", Timestamp: t0, Value: 29.1})
	assert.Empty(t, svc.SampleChan)

	svc.processHumidity(ctx, &models.HumidityReading{DeviceID: "dev-1", Timestamp: t0.Add(time.Second), Value: 51})
	require.Len(t, svc.SampleChan, 1)
	sample := <-svc.SampleChan
	assert.Equal(t, 29.1, sample.Temperature)
	assert.Equal(t, 51.0, sample.Humidity)

	assert.Len(t, store.temps, 1)
	assert.Len(t, store.hums, 1)
	assert.Equal(t, []*models.SensorSample{sample}, store.samples)
	require.Len(t, store.devices, 1, "registry refreshed at most once per interval")
	assert.Equal(t, "dev-1", store.devices[0].DeviceID)
}

func TestSensorServiceForwardsWhenStorageFails(t *testing.T) {
	store := &memoryStore{sampleErr: errors.New("clickhouse down")}
	cfg := DefaultSensorServiceConfig()
	cfg.StoreRawReadings = false
	svc := NewSensorService(store, cfg)
	ctx := context.Background()

	svc.processTemperature(ctx, &models.TemperatureReading{DeviceID: "dev-1", Timestamp: t0, Value: 20})
	svc.processHumidity(ctx, &models.HumidityReading{DeviceID: "dev-1", Timestamp: t0, Value: 50})

	require.Len(t, svc.SampleChan, 1)
	assert.Empty(t, store.temps)
	assert.Empty(t, store.hums)
}

func TestSensorServiceRefreshesRegistry(t *testing.T) {
	store := &memoryStore{}
	svc := NewSensorService(store, DefaultSensorServiceConfig())
	now := t0
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	svc.registerDevice(ctx, "dev-1")
	now = now.Add(30 * time.Second)
	svc.registerDevice(ctx, "dev-1")
	now = now.Add(31 * time.Second)
	svc.registerDevice(ctx, "dev-1")

	require.Len(t, store.devices, 2)
	assert.Equal(t, t0, store.devices[1].RegisteredAt)
	assert.Equal(t, t0.Add(61*time.Second), store.devices[1].LastSeen)
}

func TestSensorServicePairingStates(t *testing.T) {
	svc := NewSensorService(&memoryStore{}, DefaultSensorServiceConfig())
	ctx := context.Background()

	svc.processHumidity(ctx, &models.HumidityReading{DeviceID: "dev-b", Timestamp: t0, Value: 40})
	svc.processTemperature(ctx, &models.TemperatureReading{DeviceID: "dev-a", Timestamp: t0, Value: 22})
	svc.processHumidity(ctx, &models.HumidityReading{DeviceID: "dev-a", Timestamp: t0, Value: 45})

	states := svc.PairingStates()
	require.Len(t, states, 2)
	assert.Equal(t, "dev-a", states[0].DeviceID)
	assert.Equal(t, uint64(1), states[0].Paired)
	assert.Nil(t, states[0].PendingTemp)
	assert.Equal(t, "dev-b", states[1].DeviceID)
	require.NotNil(t, states[1].PendingHumidity)
	assert.Equal(t, 40.0, states[1].PendingHumidity.Value)

	_, ok := svc.PairingState("dev-c")
	assert.False(t, ok)
}
