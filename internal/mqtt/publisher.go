package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/models"
)

// publishClient is the part of mqtt.Client the publisher needs
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client publishClient

	// Input channel (read by publisher, written by detection service)
	TelemetryChan chan *models.Telemetry

	// Topic patterns
	telemetryTopic   string // e.g., "anomaly/{device_id}/telemetry"
	temperatureTopic string // e.g., "sensor/{device_id}/temperature"
	humidityTopic    string // e.g., "sensor/{device_id}/humidity"
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	TelemetryTopic   string
	TemperatureTopic string
	HumidityTopic    string
}

// NewPublisher creates a new MQTT publisher with channels
func NewPublisher(
	client publishClient,
	config PublisherConfig,
	telemetryChan chan *models.Telemetry,
) *Publisher {
	return &Publisher{
		client:           client,
		TelemetryChan:    telemetryChan,
		telemetryTopic:   config.TelemetryTopic,
		temperatureTopic: config.TemperatureTopic,
		humidityTopic:    config.HumidityTopic,
	}
}

// Start begins publishing telemetry from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Info("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Info("MQTT Publisher: Context cancelled, shutting down...")
			return

		case t, ok := <-p.TelemetryChan:
			if !ok {
				log.Info("MQTT Publisher: Telemetry channel closed, shutting down...")
				return
			}

			if err := p.PublishTelemetry(t); err != nil {
				log.Errorf("Error publishing telemetry: %v", err)
			}
		}
	}
}

// PublishTelemetry publishes one detector result for a device
func (p *Publisher) PublishTelemetry(t *models.Telemetry) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	topic := formatTopic(p.telemetryTopic, t.DeviceID)
	if err := p.publish(topic, payload); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}

	log.Debugf("Published telemetry for device %s to topic: %s", t.DeviceID, topic)
	return nil
}

// PublishReading publishes a sample as two bare-number messages, the way
// the sensor node does
func (p *Publisher) PublishReading(sample *models.SensorSample) error {
	temp := strconv.FormatFloat(sample.Temperature, 'f', 2, 64)
	if err := p.publish(formatTopic(p.temperatureTopic, sample.DeviceID), []byte(temp)); err != nil {
		return fmt.Errorf("failed to publish temperature: %w", err)
	}

	hum := strconv.FormatFloat(sample.Humidity, 'f', 2, 64)
	if err := p.publish(formatTopic(p.humidityTopic, sample.DeviceID), []byte(hum)); err != nil {
		return fmt.Errorf("failed to publish humidity: %w", err)
	}
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}
