package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-anomaly/internal/models"
	"iot-anomaly/internal/sensor"
)

type recordingPublisher struct {
	samples []models.SensorSample
	failAt  int
}

func (p *recordingPublisher) PublishReading(s *models.SensorSample) error {
	p.samples = append(p.samples, *s)
	if len(p.samples) == p.failAt {
		return errors.New("broker gone")
	}
	return nil
}

func TestPublishLoopStopsAtLimit(t *testing.T) {
	cfg := sensor.DefaultSimulatorConfig()
	cfg.Limit = 5
	pub := &recordingPublisher{failAt: 2}

	err := publishLoop(context.Background(), sensor.NewSimulator(cfg), pub, time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, pub.samples, 5)
	assert.Equal(t, cfg.DeviceID, pub.samples[0].DeviceID)
}

func TestPublishLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &recordingPublisher{}
	require.NoError(t, publishLoop(ctx, sensor.NewSimulator(sensor.DefaultSimulatorConfig()), pub, time.Hour))
	assert.Len(t, pub.samples, 1)
}

func TestDeviceTopic(t *testing.T) {
	assert.Equal(t, "sensor/{device_id}/temperature", deviceTopic("sensor/+/temperature"))
}

func TestPublishLoopRejectsZeroInterval(t *testing.T) {
	assert.Error(t, publishLoop(context.Background(), sensor.NewSimulator(sensor.DefaultSimulatorConfig()), &recordingPublisher{}, 0))
}

type batchRecorder struct {
	batches [][]models.SensorSample
	err     error
}

func (b *batchRecorder) SaveSamples(_ context.Context, samples []models.SensorSample) error {
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, append([]models.SensorSample(nil), samples...))
	return nil
}

func TestImportHistoryBatches(t *testing.T) {
	cfg := sensor.DefaultSimulatorConfig()
	cfg.Limit = 25
	store := &batchRecorder{}

	n, err := importHistory(context.Background(), sensor.NewSimulator(cfg), store, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 10)
	assert.Len(t, store.batches[2], 5)

	first, last := store.batches[0][0], store.batches[2][4]
	assert.Equal(t, cfg.Start, first.Timestamp)
	assert.Equal(t, cfg.Start.Add(24*cfg.Interval), last.Timestamp)
}

func TestImportHistoryStopsOnStoreError(t *testing.T) {
	cfg := sensor.DefaultSimulatorConfig()
	cfg.Limit = 25
	store := &batchRecorder{err: errors.New("clickhouse down")}

	n, err := importHistory(context.Background(), sensor.NewSimulator(cfg), store, 10)
	assert.EqualError(t, err, "clickhouse down")
	assert.Zero(t, n)

	_, err = importHistory(context.Background(), sensor.NewSimulator(cfg), store, 0)
	assert.Error(t, err)
}
