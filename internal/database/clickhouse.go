package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/models"
)

// ClickHouseDB stores readings, paired samples and the device registry
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Infof("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Info("Database schema initialized successfully")
	return nil
}

// SaveTemperature saves a temperature reading to the database
func (db *ClickHouseDB) SaveTemperature(ctx context.Context, reading *models.TemperatureReading) error {
	query := `
		INSERT INTO sensor_temperature (timestamp, device_id, value)
		VALUES (?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		reading.Timestamp,
		reading.DeviceID,
		reading.Value,
	)

	if err != nil {
		return fmt.Errorf("failed to insert temperature reading: %w", err)
	}

	return nil
}

// SaveHumidity saves a humidity reading to the database
func (db *ClickHouseDB) SaveHumidity(ctx context.Context, reading *models.HumidityReading) error {
	query := `
		INSERT INTO sensor_humidity (timestamp, device_id, value)
		VALUES (?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		reading.Timestamp,
		reading.DeviceID,
		reading.Value,
	)

	if err != nil {
		return fmt.Errorf("failed to insert humidity reading: %w", err)
	}

	return nil
}

// SaveSample saves a paired temperature/humidity sample
func (db *ClickHouseDB) SaveSample(ctx context.Context, sample *models.SensorSample) error {
	query := `
		INSERT INTO sensor_samples (timestamp, device_id, temperature, humidity)
		VALUES (?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		sample.Timestamp,
		sample.DeviceID,
		sample.Temperature,
		sample.Humidity,
	)

	if err != nil {
		return fmt.Errorf("failed to insert sensor sample: %w", err)
	}

	return nil
}

// SaveSamples inserts samples in one batch, used to import recorded data
func (db *ClickHouseDB) SaveSamples(ctx context.Context, samples []models.SensorSample) error {
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO sensor_samples (timestamp, device_id, temperature, humidity)")
	if err != nil {
		return fmt.Errorf("failed to prepare sample batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(s.Timestamp, s.DeviceID, s.Temperature, s.Humidity); err != nil {
			return fmt.Errorf("failed to append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send sample batch: %w", err)
	}

	log.Infof("Saved %d samples to ClickHouse", len(samples))
	return nil
}

// UpsertDevice inserts or updates a device in the registry
func (db *ClickHouseDB) UpsertDevice(ctx context.Context, device *models.Device) error {
	configJSON := "{}"
	if device.Config != nil {
		data, err := json.Marshal(device.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal device config: %w", err)
		}
		configJSON = string(data)
	}

	query := `
		INSERT INTO device_registry (device_id, name, location, registered_at, last_seen, is_active, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceID,
		device.Name,
		device.Location,
		device.RegisteredAt,
		device.LastSeen,
		device.IsActive,
		configJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetSampleHistory returns the samples of a device recorded since the given
// time, oldest first. A limit of zero returns everything.
func (db *ClickHouseDB) GetSampleHistory(ctx context.Context, deviceID string, since time.Time, limit int) ([]models.SensorSample, error) {
	query := `
		SELECT timestamp, temperature, humidity
		FROM sensor_samples
		WHERE device_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`
	args := []interface{}{deviceID, since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sample history: %w", err)
	}
	defer rows.Close()

	var samples []models.SensorSample
	for rows.Next() {
		s := models.SensorSample{DeviceID: deviceID}
		if err := rows.Scan(&s.Timestamp, &s.Temperature, &s.Humidity); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sample history: %w", err)
	}

	return samples, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Info("ClickHouse connection closed")
	}
	return nil
}
