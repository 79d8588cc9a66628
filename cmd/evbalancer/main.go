package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ev-balancer/internal/balancer"
	"ev-balancer/internal/charger"
	"ev-balancer/internal/charging"
	"ev-balancer/internal/config"
	"ev-balancer/internal/homeassistant"
	"ev-balancer/internal/mqtt"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Optional .env for broker credentials during development.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting EV load balancer (service limit %.1f A, charger max %.1f A)",
		cfg.Balancer.MaxServiceCurrent, cfg.Balancer.MaxChargerCurrent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mqttClient := mqtt.NewClient(cfg, logger)

	chargerCtrl := charger.NewMQTTController(mqttClient.Raw(), cfg.MQTT.Topics.Charger, logger)

	maxMeterAge := time.Duration(cfg.Balancer.MaxMeterAge * float64(time.Second))
	manager := charging.NewManager(cfg.EngineConfig(), maxMeterAge, chargerCtrl, logger)

	manager.SetResultCallback(func(res balancer.Result, appliedA float64) {
		mqttClient.PublishStatus(res.TargetA, res.AvailableA, appliedA, string(res.State), string(res.Reason))
	})

	manager.SetEventCallback(func(event charging.Event, data map[string]interface{}) {
		logger.Infof("Event %s: %v", event, data)
		mqttClient.PublishEvent(string(event), data)
	})

	mqttClient.SetCallbacks(
		manager.HandlePowerUpdate,
		manager.HandleMeterUnavailable,
		manager.ManualSetLimit,
		manager.SetEnabled,
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Start(ctx)
	}()

	if err := mqttClient.Connect(); err != nil {
		logger.Fatalf("Failed to connect to MQTT: %v", err)
	}
	defer mqttClient.Disconnect()

	if cfg.Discovery.Enabled {
		sensors := homeassistant.BalancerSensors(cfg.Discovery.DeviceName, cfg.MQTT.Topics.Status)
		homeassistant.SendConfiguration(mqttClient.Raw(), cfg.Discovery.Prefix, sensors, logger)
	}

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down...")
	cancel()

	wg.Wait()
	logger.Info("Shutdown complete")
}
