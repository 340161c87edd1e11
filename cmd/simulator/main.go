package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iot-anomaly/internal/database"
	"iot-anomaly/internal/models"
	"iot-anomaly/internal/mqtt"
	"iot-anomaly/internal/sensor"
	"iot-anomaly/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Generate temperature/humidity readings like the sensor node",
		Long: `Generate a slow sinusoidal temperature/humidity signal with noise and
occasional step anomalies. Publish it over MQTT, write it as CSV for calibration
or backfill it into ClickHouse as sample history.
`,
	}
	cmd.AddCommand(publishCmd())
	cmd.AddCommand(csvCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}

// simulatorFlags are shared by both subcommands; defaults come from the environment
type simulatorFlags struct {
	deviceID    string
	anomalyRate float64
	seed        int64
}

func (f *simulatorFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&f.deviceID, "device", cfg.SimDeviceID, "device ID to simulate")
	cmd.Flags().Float64Var(&f.anomalyRate, "anomaly-rate", cfg.SimAnomalyRate, "probability of an injected anomaly per sample")
	cmd.Flags().Int64Var(&f.seed, "seed", cfg.SimSeed, "random seed (0 picks one from the clock)")
}

func (f *simulatorFlags) simulatorConfig(interval time.Duration, limit int) sensor.SimulatorConfig {
	sc := sensor.DefaultSimulatorConfig()
	sc.DeviceID = f.deviceID
	sc.AnomalyRate = f.anomalyRate
	sc.Interval = interval
	sc.Limit = limit
	sc.Seed = f.seed
	if sc.Seed == 0 {
		sc.Seed = time.Now().UnixNano()
	}
	return sc
}

func publishCmd() *cobra.Command {
	cfg := config.Load()
	var (
		flags    simulatorFlags
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish simulated readings to the MQTT broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SetupLogging()

			client, err := mqtt.NewClient(mqtt.ClientConfig{
				Broker:   cfg.MQTTBroker,
				ClientID: "sensor-simulator-" + flags.deviceID,
				Username: cfg.MQTTUsername,
				Password: cfg.MQTTPassword,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			publisher := mqtt.NewPublisher(client.GetNativeClient(), mqtt.PublisherConfig{
				TemperatureTopic: deviceTopic(cfg.MQTTTopicTemperature),
				HumidityTopic:    deviceTopic(cfg.MQTTTopicHumidity),
			}, nil)

			return publishLoop(cmd.Context(), sensor.NewSimulator(flags.simulatorConfig(interval, count)), publisher, interval)
		},
	}

	flags.register(cmd, cfg)
	cmd.Flags().DurationVar(&interval, "interval", cfg.SimInterval, "time between samples")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many samples (0 runs until interrupted)")
	return cmd
}

func csvCmd() *cobra.Command {
	cfg := config.Load()
	var (
		flags  simulatorFlags
		rows   int
		output string
	)

	cmd := &cobra.Command{
		Use:     "csv",
		Short:   "Write simulated readings as temp,hum CSV",
		Example: `simulator csv --rows 6000 --anomaly-rate 0 -o sensor_data.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SetupLogging()

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			n, err := sensor.WriteCSV(out, sensor.NewSimulator(flags.simulatorConfig(cfg.SimInterval, rows)), 0)
			if err != nil {
				return err
			}
			log.Infof("Wrote %d rows", n)
			return nil
		},
	}

	flags.register(cmd, cfg)
	cmd.Flags().IntVar(&rows, "rows", 6000, "number of rows")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func historyCmd() *cobra.Command {
	cfg := config.Load()
	var (
		flags     simulatorFlags
		rows      int
		interval  time.Duration
		batchSize int
	)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Backfill simulated samples into ClickHouse, ending now",
		Example: `simulator history --device yolo-uno-01 --rows 6000 --anomaly-rate 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SetupLogging()
			ctx := cmd.Context()

			db, err := database.NewClickHouseDB(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
			if err != nil {
				return err
			}
			defer db.Close()

			sc := flags.simulatorConfig(interval, rows)
			sc.Start = time.Now().Add(-time.Duration(rows) * interval)

			n, err := importHistory(ctx, sensor.NewSimulator(sc), db, batchSize)
			log.Infof("Imported %d samples for %s", n, flags.deviceID)
			return err
		},
	}

	flags.register(cmd, cfg)
	cmd.Flags().IntVar(&rows, "rows", 6000, "number of samples")
	cmd.Flags().DurationVar(&interval, "interval", cfg.SimInterval, "time between samples")
	cmd.Flags().IntVar(&batchSize, "batch", 1000, "samples per insert")
	return cmd
}

// sampleBatchWriter is satisfied by *database.ClickHouseDB
type sampleBatchWriter interface {
	SaveSamples(ctx context.Context, samples []models.SensorSample) error
}

// importHistory drains src into store in batches and returns the number of
// samples written
func importHistory(ctx context.Context, src sensor.Source, store sampleBatchWriter, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	written := 0
	batch := make([]models.SensorSample, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.SaveSamples(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			return written, flush()
		}
		if err != nil {
			return written, err
		}

		batch = append(batch, r.SensorSample)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
}

// readingPublisher is satisfied by *mqtt.Publisher
type readingPublisher interface {
	PublishReading(sample *models.SensorSample) error
}

func publishLoop(ctx context.Context, src sensor.Source, pub readingPublisher, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		sample := r.SensorSample
		sample.Timestamp = time.Now()
		if err := pub.PublishReading(&sample); err != nil {
			log.Errorf("Simulator: %v", err)
		} else {
			log.WithFields(log.Fields{
				"device_id":   sample.DeviceID,
				"temperature": fmt.Sprintf("%.2f", sample.Temperature),
				"humidity":    fmt.Sprintf("%.2f", sample.Humidity),
				"injected":    r.Injected,
			}).Info("Simulator: published")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// deviceTopic turns a subscription pattern such as sensor/+/temperature
// into a publish pattern with a {device_id} placeholder
func deviceTopic(pattern string) string {
	return strings.Replace(pattern, "+", "{device_id}", 1)
}
