package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"iot-anomaly/internal/anomaly"
	"iot-anomaly/internal/calibration"
	"iot-anomaly/internal/database"
	"iot-anomaly/internal/ml"
	"iot-anomaly/internal/sensor"
	"iot-anomaly/pkg/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		csvPath   string
		deviceID  string
		since     time.Duration
		modelPath string
		k         float64
		output    string
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compute the anomaly threshold from normal sensor data",
		Long: `Score every window of normal sensor data with the quantized autoencoder
and print threshold = mean + k*std of the reconstruction errors.
Data comes from a temp,hum CSV file or from the ClickHouse sample history of a device.
`,
		Example: `calibrate --csv sensor_data.csv
calibrate --device yolo-uno-01 --since 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			cfg.SetupLogging()

			if (csvPath == "") == (deviceID == "") {
				return fmt.Errorf("exactly one of --csv or --device is required")
			}

			modelData := anomaly.DefaultModel()
			if modelPath != "" {
				data, _, err := ml.LoadModelFile(modelPath)
				if err != nil {
					return err
				}
				modelData = data
			}

			samples, err := loadSamples(cmd.Context(), cfg, csvPath, deviceID, since)
			if err != nil {
				return err
			}

			scorer, oracle, err := calibration.NewScorer(modelData)
			if err != nil {
				return err
			}

			windows := calibration.BuildWindows(samples, anomaly.WindowSize)
			log.Infof("Calibrating on %d windows of %d samples", len(windows), anomaly.WindowSize)

			stats, err := calibration.Calibrate(scorer, windows, k)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}
			return stats.Report(out, oracle.InputParams(), oracle.OutputParams())
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "temp,hum CSV file of normal data")
	cmd.Flags().StringVar(&deviceID, "device", "", "read the sample history of this device from ClickHouse")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "history span to read with --device")
	cmd.Flags().StringVar(&modelPath, "model", "", "model JSON to calibrate (default: embedded model)")
	cmd.Flags().Float64Var(&k, "k", calibration.DefaultK, "standard deviations above the mean")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report to this file instead of stdout")

	return cmd
}

func loadSamples(ctx context.Context, cfg *config.Config, csvPath, deviceID string, since time.Duration) ([]anomaly.Sample, error) {
	var src sensor.Source

	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", csvPath, err)
		}
		defer f.Close()
		src = sensor.NewCSVSource(f, "csv")
	} else {
		db, err := database.NewClickHouseDB(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDB, cfg.ClickHouseUser, cfg.ClickHousePass)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		history, err := db.GetSampleHistory(ctx, deviceID, time.Now().Add(-since), 0)
		if err != nil {
			return nil, err
		}
		src = sensor.NewSliceSource(history)
	}

	samples, dropped, err := sensor.Collect(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	if dropped > 0 {
		log.Warnf("Dropped %d samples outside sensor bounds", dropped)
	}
	log.Infof("Loaded %d samples", len(samples))
	return samples, nil
}
