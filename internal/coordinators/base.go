// Package coordinators provides the bridge's long-running service surfaces.
package coordinators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
	"github.com/unklstewy/seestar-bridge/pkg/mqtt"
	"go.uber.org/zap"
)

// BaseCoordinator provides the common lifecycle: MQTT connectivity, a health
// check engine with periodic publishing, and ordered shutdown hooks.
type BaseCoordinator struct {
	name          string
	mqttClient    *mqtt.Client
	healthEngine  *healthcheck.Engine
	logger        *zap.Logger
	running       bool
	mu            sync.RWMutex
	startTime     time.Time
	shutdownFuncs []func(context.Context) error
}

// BaseConfig holds common coordinator configuration.
type BaseConfig struct {
	// Name is the coordinator instance name
	Name string `json:"name"`
	// MQTTConfig for message bus connection
	MQTTConfig *mqtt.Config `json:"mqtt"`
	// HealthCheckInterval for periodic health checks
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	// LogLevel for the coordinator
	LogLevel string `json:"log_level"`
}

// NewBaseCoordinator creates a base coordinator. The MQTT client may be nil
// for surfaces that do not speak MQTT (or in tests).
func NewBaseCoordinator(name string, mqttClient *mqtt.Client, logger *zap.Logger) *BaseCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BaseCoordinator{
		name:          name,
		mqttClient:    mqttClient,
		healthEngine:  healthcheck.NewEngine(logger, 3*time.Second),
		logger:        logger.With(zap.String("coordinator", name)),
		shutdownFuncs: make([]func(context.Context) error, 0),
	}
}

// Name returns the coordinator name.
func (bc *BaseCoordinator) Name() string {
	return bc.name
}

// IsRunning returns true if the coordinator is running.
func (bc *BaseCoordinator) IsRunning() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.running
}

func (bc *BaseCoordinator) setRunning(running bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.running = running
	if running {
		bc.startTime = time.Now()
	}
}

// Start connects the message bus and begins periodic health checks. Health
// results are published to the bridge health topic when MQTT is available.
func (bc *BaseCoordinator) Start(ctx context.Context) error {
	if bc.IsRunning() {
		return fmt.Errorf("coordinator %s is already running", bc.name)
	}

	bc.logger.Info("Starting coordinator")

	if bc.mqttClient != nil && !bc.mqttClient.IsConnected() {
		if err := bc.mqttClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect MQTT: %w", err)
		}
	}

	if bc.mqttClient != nil {
		bc.healthEngine.SetPublisher(func(ctx context.Context, result *healthcheck.AggregatedResult) error {
			msg, err := mqtt.NewMessage(mqtt.MessageTypeStatus, bc.name, result)
			if err != nil {
				return err
			}
			return bc.mqttClient.PublishJSON(mqtt.HealthTopic(), 1, false, msg)
		})
	}
	go bc.healthEngine.Start(ctx)

	bc.setRunning(true)
	bc.logger.Info("Coordinator started")
	return nil
}

// Stop shuts down the coordinator, running shutdown hooks in reverse
// registration order.
func (bc *BaseCoordinator) Stop(ctx context.Context) error {
	if !bc.IsRunning() {
		return nil
	}

	bc.logger.Info("Stopping coordinator")

	for i := len(bc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := bc.shutdownFuncs[i](ctx); err != nil {
			bc.logger.Error("Shutdown function failed", zap.Error(err))
		}
	}

	bc.healthEngine.Stop()

	if bc.mqttClient != nil && bc.mqttClient.IsConnected() {
		bc.mqttClient.Disconnect()
	}

	bc.setRunning(false)
	bc.logger.Info("Coordinator stopped")
	return nil
}

// HealthCheck returns the coordinator's own health status.
func (bc *BaseCoordinator) HealthCheck(ctx context.Context) *healthcheck.Result {
	status := healthcheck.StatusHealthy
	message := "Coordinator is healthy"

	if !bc.IsRunning() {
		status = healthcheck.StatusUnhealthy
		message = "Coordinator is not running"
	} else if bc.mqttClient != nil && !bc.mqttClient.IsConnected() {
		status = healthcheck.StatusDegraded
		message = "MQTT client not connected"
	}

	return &healthcheck.Result{
		ComponentName: bc.name,
		Status:        status,
		Message:       message,
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"uptime_seconds": time.Since(bc.startTime).Seconds(),
			"running":        bc.IsRunning(),
			"mqtt_connected": bc.mqttClient != nil && bc.mqttClient.IsConnected(),
		},
	}
}

// RegisterShutdownFunc adds a function to be called during shutdown.
func (bc *BaseCoordinator) RegisterShutdownFunc(fn func(context.Context) error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.shutdownFuncs = append(bc.shutdownFuncs, fn)
}

// RegisterHealthCheck adds a health checker to the coordinator's engine.
func (bc *BaseCoordinator) RegisterHealthCheck(checker healthcheck.Checker) {
	bc.healthEngine.Register(checker)
}

// HealthEngine returns the health check engine.
func (bc *BaseCoordinator) HealthEngine() *healthcheck.Engine {
	return bc.healthEngine
}

// MQTTClient returns the MQTT client, nil when not configured.
func (bc *BaseCoordinator) MQTTClient() *mqtt.Client {
	return bc.mqttClient
}

// Logger returns the coordinator's logger.
func (bc *BaseCoordinator) Logger() *zap.Logger {
	return bc.logger
}

// CreateMQTTClient builds an MQTT client with the bridge's standard
// connection settings.
func CreateMQTTClient(brokerURL, clientID string, logger *zap.Logger) (*mqtt.Client, error) {
	if brokerURL == "" {
		brokerURL = "tcp://localhost:1883"
	}

	return mqtt.NewClient(&mqtt.Config{
		BrokerURL:            brokerURL,
		ClientID:             clientID,
		KeepAlive:            30 * time.Second,
		ConnectTimeout:       10 * time.Second,
		AutoReconnect:        true,
		MaxReconnectInterval: 5 * time.Minute,
	}, logger)
}
