package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/models"
)

// subscribeClient is the part of mqtt.Client the subscriber needs
type subscribeClient interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscriber handles MQTT subscriptions and writes messages to channels
type Subscriber struct {
	client subscribeClient

	// Output channels (written by subscriber, read by services)
	TempChan     chan *models.TemperatureReading
	HumidityChan chan *models.HumidityReading

	// Topic patterns
	temperatureTopic string
	humidityTopic    string

	sendTimeout time.Duration
	now         func() time.Time
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	TemperatureTopic string // e.g., "sensor/+/temperature"
	HumidityTopic    string // e.g., "sensor/+/humidity"

	// How long a handler waits on a full channel before dropping the reading
	SendTimeout time.Duration
}

// NewSubscriber creates a new MQTT subscriber with channels
func NewSubscriber(
	client subscribeClient,
	config SubscriberConfig,
	tempChan chan *models.TemperatureReading,
	humidityChan chan *models.HumidityReading,
) *Subscriber {
	timeout := config.SendTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Subscriber{
		client:           client,
		TempChan:         tempChan,
		HumidityChan:     humidityChan,
		temperatureTopic: config.TemperatureTopic,
		humidityTopic:    config.HumidityTopic,
		sendTimeout:      timeout,
		now:              time.Now,
	}
}

// SubscribeAll subscribes to all configured sensor topics
func (s *Subscriber) SubscribeAll() error {
	if s.temperatureTopic != "" {
		if err := s.subscribeToTopic(s.temperatureTopic, s.handleTemperature); err != nil {
			return fmt.Errorf("failed to subscribe to temperature topic: %w", err)
		}
		log.Infof("Subscribed to temperature topic: %s", s.temperatureTopic)
	}

	if s.humidityTopic != "" {
		if err := s.subscribeToTopic(s.humidityTopic, s.handleHumidity); err != nil {
			return fmt.Errorf("failed to subscribe to humidity topic: %w", err)
		}
		log.Infof("Subscribed to humidity topic: %s", s.humidityTopic)
	}

	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleTemperature processes temperature sensor messages and writes to channel
func (s *Subscriber) handleTemperature(_ mqtt.Client, msg mqtt.Message) {
	// Extract device ID from topic (sensor/{device_id}/temperature)
	deviceID := extractDeviceID(msg.Topic())
	if deviceID == "" {
		log.Warnf("Could not extract device ID from topic: %s", msg.Topic())
		return
	}

	value, timestamp, err := parseReading(msg.Payload(), s.now())
	if err != nil {
		log.Warnf("Error parsing temperature from %s: %v", deviceID, err)
		return
	}

	reading := &models.TemperatureReading{
		Timestamp: timestamp,
		DeviceID:  deviceID,
		Value:     value,
	}

	log.Debugf("Received temperature from %s: %.2f°C", deviceID, value)

	// Write to channel (non-blocking with timeout)
	select {
	case s.TempChan <- reading:
	case <-time.After(s.sendTimeout):
		log.Warnf("Temperature channel full, dropping message from %s", deviceID)
	}
}

// handleHumidity processes humidity sensor messages and writes to channel
func (s *Subscriber) handleHumidity(_ mqtt.Client, msg mqtt.Message) {
	// Extract device ID from topic (sensor/{device_id}/humidity)
	deviceID := extractDeviceID(msg.Topic())
	if deviceID == "" {
		log.Warnf("Could not extract device ID from topic: %s", msg.Topic())
		return
	}

	value, timestamp, err := parseReading(msg.Payload(), s.now())
	if err != nil {
		log.Warnf("Error parsing humidity from %s: %v", deviceID, err)
		return
	}

	reading := &models.HumidityReading{
		Timestamp: timestamp,
		DeviceID:  deviceID,
		Value:     value,
	}

	log.Debugf("Received humidity from %s: %.2f%%", deviceID, value)

	select {
	case s.HumidityChan <- reading:
	case <-time.After(s.sendTimeout):
		log.Warnf("Humidity channel full, dropping message from %s", deviceID)
	}
}
