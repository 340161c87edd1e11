package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicTemperature string
	MQTTTopicHumidity    string
	MQTTTopicTelemetry   string

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Store every raw temperature/humidity reading, not only paired samples
	StoreRawReadings bool

	// HTTP status API
	HTTPAddr string

	// Logging
	LogLevel string

	// Max distance between a temperature and a humidity reading paired into one sample
	PairingMaxSkew time.Duration

	// Max devices with a detector; each one holds its own tensor arena
	MaxDevices int

	// Simulator
	SimDeviceID    string
	SimInterval    time.Duration
	SimAnomalyRate float64
	SimSeed        int64
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", defaultClientID("anomaly-detector")),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// MQTT topics
		MQTTTopicTemperature: getEnv("MQTT_TOPIC_TEMPERATURE", "sensor/+/temperature"),
		MQTTTopicHumidity:    getEnv("MQTT_TOPIC_HUMIDITY", "sensor/+/humidity"),
		MQTTTopicTelemetry:   getEnv("MQTT_TOPIC_TELEMETRY", "anomaly/{device_id}/telemetry"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "iot"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		StoreRawReadings: getEnvBool("STORE_RAW_READINGS", true),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PairingMaxSkew: getEnvDuration("PAIRING_MAX_SKEW", 2*time.Second),
		MaxDevices:     getEnvInt("MAX_DEVICES", 64),

		// Simulator
		SimDeviceID:    getEnv("SIM_DEVICE_ID", "yolo-uno-01"),
		SimInterval:    getEnvDuration("SIM_INTERVAL", 5*time.Second),
		SimAnomalyRate: getEnvFloat("SIM_ANOMALY_RATE", 0.03),
		SimSeed:        int64(getEnvInt("SIM_SEED", 0)),
	}
}

// SetupLogging applies the configured log level to the standard logrus logger
func (c *Config) SetupLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("Invalid LOG_LEVEL %q, using info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// defaultClientID keeps client IDs unique when several processes share a broker
func defaultClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}
