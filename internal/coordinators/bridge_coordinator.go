package coordinators

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/engines/seestar"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"github.com/unklstewy/seestar-bridge/internal/resolver"
	"github.com/unklstewy/seestar-bridge/pkg/api"
	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
	"github.com/unklstewy/seestar-bridge/pkg/mqtt"
	"go.uber.org/zap"
)

var _ api.Coordinator = (*BridgeCoordinator)(nil)

var _ Telescope = (*seestar.Client)(nil)

// Telescope is the slice of the seestar engine the coordinator drives. The
// concrete *seestar.Client satisfies it; tests use a recording stub.
type Telescope interface {
	Connect(ctx context.Context) (*models.TelescopeInfo, error)
	Disconnect()
	IsConnected() bool
	GotoCoordinates(ctx context.Context, req seestar.GotoRequest) error
	StartSolarObservation(ctx context.Context, targetName string) error
	Park(ctx context.Context) error
	Unpark(ctx context.Context) error
	StartImaging(ctx context.Context, params models.ImagingParams) error
	StopImaging(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	StartCalibration(ctx context.Context) error
	CalibrationStatus() map[string]interface{}
	State() models.TelescopeState
}

// BridgeConfig holds configuration for the bridge coordinator.
type BridgeConfig struct {
	BaseConfig
	// ResponseQoS is the QoS level for response publications
	ResponseQoS byte `json:"response_qos"`
}

// BridgeCoordinator exposes the telescope engine over MQTT command topics.
// It owns the telescope session handle; nothing here is package-level state.
type BridgeCoordinator struct {
	*BaseCoordinator
	telescope Telescope
	resolver  resolver.TargetResolver
	publisher mqtt.Publisher
	config    *BridgeConfig
}

// NewBridgeCoordinator creates the MQTT command surface around an existing
// telescope handle.
func NewBridgeCoordinator(config *BridgeConfig, telescope Telescope, res resolver.TargetResolver, logger *zap.Logger) (*BridgeCoordinator, error) {
	if telescope == nil {
		return nil, fmt.Errorf("telescope cannot be nil")
	}
	if config == nil {
		config = &BridgeConfig{}
	}
	if config.Name == "" {
		config.Name = mqtt.ComponentBridge
	}
	if config.ResponseQoS == 0 {
		config.ResponseQoS = 1
	}

	var mqttClient *mqtt.Client
	var err error
	if config.MQTTConfig != nil {
		if config.MQTTConfig.ClientID == "" {
			config.MQTTConfig.ClientID = "seestar-" + config.Name
		}
		config.MQTTConfig.AutoReconnect = true
		mqttClient, err = mqtt.NewClient(config.MQTTConfig, logger)
	} else {
		mqttClient, err = CreateMQTTClient("", "seestar-"+config.Name, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}

	coord := &BridgeCoordinator{
		BaseCoordinator: NewBaseCoordinator(config.Name, mqttClient, logger),
		telescope:       telescope,
		resolver:        res,
		publisher:       mqttClient,
		config:          config,
	}

	coord.RegisterHealthCheck(healthcheck.CheckFunc("telescope", coord.telescopeHealth))
	coord.RegisterShutdownFunc(func(ctx context.Context) error {
		telescope.Disconnect()
		return nil
	})

	return coord, nil
}

// telescopeHealth reports the engine's session state to the health engine.
func (c *BridgeCoordinator) telescopeHealth(ctx context.Context) *healthcheck.Result {
	state := c.telescope.State()

	status := healthcheck.StatusHealthy
	message := "Telescope session active"
	if !state.Connected {
		status = healthcheck.StatusDegraded
		message = "Telescope not connected"
	}

	return &healthcheck.Result{
		ComponentName: "telescope",
		Status:        status,
		Message:       message,
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"status":         string(state.Status),
			"current_target": state.CurrentTarget,
		},
	}
}

// Start begins coordinator operations and subscribes to the command topics.
func (c *BridgeCoordinator) Start(ctx context.Context) error {
	if err := c.BaseCoordinator.Start(ctx); err != nil {
		return err
	}

	for _, op := range mqtt.Operations {
		topic := mqtt.CommandTopic(op)
		if err := c.MQTTClient().Subscribe(topic, 1, c.handleMessageWrapper); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.Logger().Info("Bridge coordinator started")
	return nil
}

// handleMessageWrapper adapts handleMessage to the MessageHandler signature.
func (c *BridgeCoordinator) handleMessageWrapper(topic string, payload []byte) error {
	c.handleMessage(topic, payload)
	return nil
}

// handleMessage routes one command message. The payload may be a full
// message envelope or a bare JSON request body.
func (c *BridgeCoordinator) handleMessage(topic string, payload []byte) {
	op, err := mqtt.OperationFromTopic(topic)
	if err != nil {
		c.Logger().Warn("Ignoring message on unexpected topic", zap.String("topic", topic))
		return
	}

	var envelope *mqtt.Message
	body := payload
	var msg mqtt.Message
	if err := json.Unmarshal(payload, &msg); err == nil && msg.ID != "" && len(msg.Payload) > 0 {
		envelope = &msg
		body = msg.Payload
	}

	c.Logger().Debug("Handling command",
		zap.String("operation", op),
		zap.Int("payload_size", len(body)))

	ctx := context.Background()
	var resp models.Response
	switch op {
	case mqtt.OpConnect:
		resp = c.handleConnect(ctx)
	case mqtt.OpDisconnect:
		resp = c.handleDisconnect()
	case mqtt.OpGoto:
		resp = c.handleGoto(ctx, body)
	case mqtt.OpResolve:
		resp = c.handleResolve(ctx, body)
	case mqtt.OpPark:
		resp = c.simpleCommand("Telescope parked", c.telescope.Park(ctx))
	case mqtt.OpUnpark:
		resp = c.simpleCommand("Telescope unparked", c.telescope.Unpark(ctx))
	case mqtt.OpImagingStart:
		resp = c.handleImagingStart(ctx, body)
	case mqtt.OpImagingStop:
		resp = c.simpleCommand("Imaging stopped", c.telescope.StopImaging(ctx))
	case mqtt.OpSolar:
		resp = c.handleSolar(ctx, body)
	case mqtt.OpStatus:
		resp = c.handleStatus()
	case mqtt.OpEmergencyStop:
		resp = c.simpleCommand("Emergency stop issued", c.telescope.EmergencyStop(ctx))
	case mqtt.OpCalibrate:
		resp = c.handleCalibrate(ctx)
	default:
		c.Logger().Warn("Unhandled operation", zap.String("operation", op))
		return
	}

	c.publishResponse(op, envelope, resp)
}

func (c *BridgeCoordinator) publishResponse(op string, request *mqtt.Message, resp models.Response) {
	resp.Timestamp = time.Now().UTC()

	msg, err := mqtt.NewResponse(request, c.Name(), resp)
	if err != nil {
		c.Logger().Error("Failed to build response message", zap.Error(err))
		return
	}

	if err := c.publisher.PublishJSON(mqtt.ResponseTopic(op), c.config.ResponseQoS, false, msg); err != nil {
		c.Logger().Error("Failed to publish response",
			zap.String("operation", op),
			zap.Error(err))
	}
}

func (c *BridgeCoordinator) simpleCommand(okMessage string, err error) models.Response {
	if err != nil {
		return models.Response{Success: false, Error: err.Error()}
	}
	return models.Response{Success: true, Message: okMessage}
}

func (c *BridgeCoordinator) handleConnect(ctx context.Context) models.Response {
	info, err := c.telescope.Connect(ctx)
	if err != nil {
		return models.Response{Success: false, Error: err.Error()}
	}
	return models.Response{
		Success: true,
		Message: "Connected to " + info.DeviceName,
		Data: map[string]interface{}{
			"device_name": info.DeviceName,
			"mount_type":  info.MountType,
		},
	}
}

func (c *BridgeCoordinator) handleDisconnect() models.Response {
	c.telescope.Disconnect()
	return models.Response{Success: true, Message: "Disconnected from telescope"}
}

// gotoRequest is the command body for goto: either explicit coordinates or a
// target name to resolve.
type gotoRequest struct {
	Target              string               `json:"target,omitempty"`
	RA                  *float64             `json:"ra,omitempty"`
	Dec                 *float64             `json:"dec,omitempty"`
	Mosaic              *models.MosaicParams `json:"mosaic,omitempty"`
	SkipVisibilityCheck bool                 `json:"skip_visibility_check,omitempty"`
}

func (c *BridgeCoordinator) handleGoto(ctx context.Context, body []byte) models.Response {
	var req gotoRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return models.Response{Success: false, Error: "Invalid request format"}
	}

	name := req.Target
	var coords models.Coordinates

	switch {
	case req.RA != nil && req.Dec != nil:
		coords = models.Coordinates{RA: *req.RA, Dec: *req.Dec, Epoch: "J2000"}
	case req.Target != "":
		if c.resolver == nil {
			return models.Response{Success: false, Error: "No target resolver configured"}
		}
		result, err := c.resolver.Resolve(ctx, req.Target)
		if err != nil {
			return models.Response{Success: false, Error: err.Error()}
		}
		if !result.Found {
			return models.Response{
				Success: false,
				Error:   fmt.Sprintf("Target %q not found", req.Target),
				Data:    map[string]interface{}{"alternatives": result.Alternatives},
			}
		}
		coords = result.Target.Coordinates
		name = result.Target.Name
	default:
		return models.Response{Success: false, Error: "Either target or ra/dec required"}
	}

	// The Sun never goes through the star-mode goto; the device has a
	// dedicated solar workflow.
	if seestar.IsSunTarget(name) {
		if err := c.telescope.StartSolarObservation(ctx, req.Target); err != nil {
			return models.Response{Success: false, Error: err.Error()}
		}
		return models.Response{
			Success: true,
			Message: "Solar observation started. Ensure a proper solar filter is installed!",
		}
	}

	err := c.telescope.GotoCoordinates(ctx, seestar.GotoRequest{
		Coordinates:         coords,
		TargetName:          name,
		Mosaic:              req.Mosaic,
		SkipVisibilityCheck: req.SkipVisibilityCheck,
	})
	if err != nil {
		return models.Response{Success: false, Error: err.Error()}
	}

	return models.Response{
		Success: true,
		Message: fmt.Sprintf("Slewing to %s complete", name),
		Data: map[string]interface{}{
			"target": name,
			"ra":     coords.RA,
			"dec":    coords.Dec,
		},
	}
}

func (c *BridgeCoordinator) handleResolve(ctx context.Context, body []byte) models.Response {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return models.Response{Success: false, Error: "Invalid request format"}
	}
	if c.resolver == nil {
		return models.Response{Success: false, Error: "No target resolver configured"}
	}

	result, err := c.resolver.Resolve(ctx, req.Target)
	if err != nil {
		return models.Response{Success: false, Error: err.Error()}
	}

	data := map[string]interface{}{"result": result}
	if !result.Found {
		return models.Response{
			Success: false,
			Error:   fmt.Sprintf("Target %q not found", req.Target),
			Data:    data,
		}
	}
	return models.Response{
		Success: true,
		Message: "Resolved " + result.Target.Name,
		Data:    data,
	}
}

func (c *BridgeCoordinator) handleImagingStart(ctx context.Context, body []byte) models.Response {
	var params models.ImagingParams
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return models.Response{Success: false, Error: "Invalid request format"}
		}
	}
	return c.simpleCommand("Imaging started", c.telescope.StartImaging(ctx, params))
}

func (c *BridgeCoordinator) handleSolar(ctx context.Context, body []byte) models.Response {
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)

	if err := c.telescope.StartSolarObservation(ctx, req.Target); err != nil {
		return models.Response{Success: false, Error: err.Error()}
	}
	return models.Response{
		Success: true,
		Message: "Solar observation started. Ensure a proper solar filter is installed!",
	}
}

func (c *BridgeCoordinator) handleStatus() models.Response {
	state := c.telescope.State()
	return models.Response{
		Success: true,
		Message: "Telescope status",
		Data: map[string]interface{}{
			"status":         string(state.Status),
			"connected":      state.Connected,
			"is_tracking":    state.IsTracking,
			"is_parked":      state.IsParked,
			"current_target": state.CurrentTarget,
		},
	}
}

func (c *BridgeCoordinator) handleCalibrate(ctx context.Context) models.Response {
	err := c.telescope.StartCalibration(ctx)
	if err != nil {
		return models.Response{
			Success: false,
			Error:   err.Error(),
			Data:    c.telescope.CalibrationStatus(),
		}
	}
	return models.Response{Success: true, Message: "Calibration started"}
}
