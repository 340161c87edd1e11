package database

import "fmt"

// Raw readings are only kept for debugging the pairer; paired samples are the
// calibration history and live longer.
const (
	RawReadingsTTLDays = 30
	SamplesTTLDays     = 365
)

// readingTableSQL is shared by the two single-value reading tables
func readingTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			device_id LowCardinality(String),
			value Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (device_id, timestamp)
		TTL toDateTime(timestamp) + INTERVAL %d DAY
	`, table, RawReadingsTTLDays)
}

var (
	// SensorTemperatureTableSQL creates the sensor_temperature table
	SensorTemperatureTableSQL = readingTableSQL("sensor_temperature")

	// SensorHumidityTableSQL creates the sensor_humidity table
	SensorHumidityTableSQL = readingTableSQL("sensor_humidity")

	// SensorSamplesTableSQL creates the sensor_samples table holding paired
	// temperature/humidity readings, the unit the detector and calibration consume
	SensorSamplesTableSQL = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS sensor_samples (
			timestamp DateTime64(3),
			device_id LowCardinality(String),
			temperature Float64 CODEC(Gorilla),
			humidity Float64 CODEC(Gorilla)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (device_id, timestamp)
		TTL toDateTime(timestamp) + INTERVAL %d DAY
	`, SamplesTTLDays)
)

// DeviceRegistryTableSQL creates the device_registry table. Rows are
// re-inserted on every refresh; the newest last_seen wins on merge.
const DeviceRegistryTableSQL = `
	CREATE TABLE IF NOT EXISTS device_registry (
		device_id String,
		name String,
		location String,
		registered_at DateTime64(3),
		last_seen DateTime64(3),
		is_active Bool,
		config String
	) ENGINE = ReplacingMergeTree(last_seen)
	ORDER BY device_id
`

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		SensorTemperatureTableSQL,
		SensorHumidityTableSQL,
		SensorSamplesTableSQL,
		DeviceRegistryTableSQL,
	}
}
