// Package main is the entry point for the Seestar bridge service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/seestar-bridge/internal/astro"
	"github.com/unklstewy/seestar-bridge/internal/config"
	"github.com/unklstewy/seestar-bridge/internal/coordinators"
	"github.com/unklstewy/seestar-bridge/internal/engines/seestar"
	"github.com/unklstewy/seestar-bridge/internal/resolver"
	"github.com/unklstewy/seestar-bridge/pkg/bridgeserver"
	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
	"github.com/unklstewy/seestar-bridge/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "", "Path to bridge.yaml (searches ./configs and . when empty)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		panic("failed to load configuration: " + err.Error())
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting Seestar bridge",
		zap.String("telescope_host", cfg.Telescope.Host),
		zap.Int("telescope_port", cfg.Telescope.Port),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		zap.String("listen_address", cfg.Server.Server.ListenAddress))

	site := astro.NewSite(cfg.Site.Latitude, cfg.Site.Longitude, cfg.Site.Elevation, cfg.Site.Timezone, logger)
	gate := astro.NewGate(site, logger)

	var resolverOpts []resolver.Option
	if cfg.Resolver.SimbadURL != "" {
		resolverOpts = append(resolverOpts, resolver.WithSimbadURL(cfg.Resolver.SimbadURL))
	}
	targetResolver := resolver.New(logger, resolverOpts...)

	telescope := seestar.NewClient(cfg.SeestarConfig(), gate, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var coordinator *coordinators.BridgeCoordinator
	var health *healthcheck.Engine

	if cfg.MQTT.Enabled {
		bridgeConfig := &coordinators.BridgeConfig{}
		bridgeConfig.Name = mqtt.ComponentBridge
		bridgeConfig.LogLevel = cfg.LogLevel
		bridgeConfig.MQTTConfig = &mqtt.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		}

		coordinator, err = coordinators.NewBridgeCoordinator(bridgeConfig, telescope, targetResolver, logger)
		if err != nil {
			logger.Fatal("Failed to create bridge coordinator", zap.Error(err))
		}
		if err := coordinator.Start(ctx); err != nil {
			logger.Fatal("Failed to start bridge coordinator", zap.Error(err))
		}
		health = coordinator.HealthEngine()
	} else {
		health = healthcheck.NewEngine(logger, 3*time.Second)
		health.Register(telescope)
	}

	server, err := bridgeserver.NewServer(&cfg.Server, telescope, targetResolver, health, logger)
	if err != nil {
		logger.Fatal("Failed to create HTTP server", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Seestar bridge running, press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	if coordinator != nil {
		if err := coordinator.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping coordinator", zap.Error(err))
		}
	} else {
		telescope.Disconnect()
	}

	logger.Info("Seestar bridge stopped")
}

// buildLogger creates the process logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	switch level {
	case "debug":
		return zap.NewDevelopment()
	case "warn":
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		return cfg.Build()
	case "error":
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
		return cfg.Build()
	default:
		return zap.NewProduction()
	}
}
