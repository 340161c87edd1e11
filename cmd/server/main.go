package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"iot-anomaly/internal/anomaly"
	"iot-anomaly/internal/api"
	"iot-anomaly/internal/database"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/mqtt"
	"iot-anomaly/internal/services"
	"iot-anomaly/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.Load()
	cfg.SetupLogging()

	log.Info("Starting IoT Anomaly Detector...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ClickHouse database
	db, err := database.NewClickHouseDB(
		ctx,
		cfg.ClickHouseAddr,
		cfg.ClickHouseDB,
		cfg.ClickHouseUser,
		cfg.ClickHousePass,
	)
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse: %v", err)
	}
	defer db.Close()

	// === Metrics ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// === Services ===
	// Channels connect the MQTT layer with the services layer:
	// subscriber → sensor service → detection service → publisher
	sensorConfig := services.DefaultSensorServiceConfig()
	sensorConfig.PairingMaxSkew = cfg.PairingMaxSkew
	sensorConfig.StoreRawReadings = cfg.StoreRawReadings
	sensorService := services.NewSensorService(db, sensorConfig)

	board := services.NewStatusBoard()
	detectionConfig := services.DefaultDetectionServiceConfig()
	detectionConfig.MaxDevices = cfg.MaxDevices
	detectionService := services.NewDetectionService(
		sensorService.SampleChan,
		services.DefaultDetectorFactory,
		board,
		m,
		detectionConfig,
	)

	// === Initialize MQTT Client ===
	log.Info("Connecting to MQTT broker...")
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		log.Fatalf("Failed to initialize MQTT client: %v", err)
	}
	defer mqttClient.Close()

	subscriber := mqtt.NewSubscriber(
		mqttClient.GetNativeClient(),
		mqtt.SubscriberConfig{
			TemperatureTopic: cfg.MQTTTopicTemperature,
			HumidityTopic:    cfg.MQTTTopicHumidity,
		},
		sensorService.TempChan,
		sensorService.HumidityChan,
	)

	publisher := mqtt.NewPublisher(
		mqttClient.GetNativeClient(),
		mqtt.PublisherConfig{TelemetryTopic: cfg.MQTTTopicTelemetry},
		detectionService.TelemetryChan,
	)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		publisher.Start,
		detectionService.Start,
		sensorService.Start,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	// Subscribe last so no reading arrives before its consumer runs
	if err := subscriber.SubscribeAll(); err != nil {
		log.Fatalf("Failed to subscribe to MQTT topics: %v", err)
	}
	mqttClient.OnReconnect(func() {
		if err := subscriber.SubscribeAll(); err != nil {
			log.Errorf("Failed to renew MQTT subscriptions: %v", err)
		}
	})

	// === HTTP status API ===
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(board, sensorService, m, mqttClient.IsConnected),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// === Log startup info ===
	log.Info("=== IoT Anomaly Detector is running ===")
	log.Infof("Detector: window=%d samples, threshold=%.6f, arena=%d bytes",
		anomaly.WindowSize, anomaly.DefaultThreshold, anomaly.TensorArenaSize)
	log.Infof("MQTT Topics:")
	log.Infof("  - Temperature: %s", cfg.MQTTTopicTemperature)
	log.Infof("  - Humidity:    %s", cfg.MQTTTopicHumidity)
	log.Infof("  - Telemetry:   %s", cfg.MQTTTopicTelemetry)
	log.Infof("HTTP API listening on %s", cfg.HTTPAddr)
	log.Info("Press Ctrl+C to exit...")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Info("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	cancel() // Cancel context to stop all goroutines
	wg.Wait()

	log.Info("Shutdown complete. Goodbye!")
}
