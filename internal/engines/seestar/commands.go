package seestar

import (
	"context"
	"fmt"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/models"
	"go.uber.org/zap"
)

// StartImaging begins a stacking session on the current target. The device
// stacks internally; this only flips it into stack mode. Exposure, gain and
// frame count are configured via SetStackSetting before starting.
func (c *Client) StartImaging(ctx context.Context, params models.ImagingParams) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	body := map[string]interface{}{"restart": true}
	if params.Mosaic != nil {
		m := params.Mosaic.Clamped()
		body["mosaic"] = map[string]interface{}{
			"enable": true,
			"width":  m.Width,
			"height": m.Height,
		}
	}

	c.logger.Info("Starting imaging session",
		zap.Float64("exposure", params.ExposureTime),
		zap.Int("count", params.Count))

	if err := c.send("iscope_start_stack", body); err != nil {
		return fmt.Errorf("failed to start imaging: %w", err)
	}
	c.setStatus(models.StatusImaging, c.CurrentTarget())
	return nil
}

// StopImaging ends the stacking stage while keeping the view (and tracking)
// alive.
func (c *Client) StopImaging(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.send("iscope_stop_view", map[string]interface{}{"stage": "Stack"}); err != nil {
		return fmt.Errorf("failed to stop imaging: %w", err)
	}
	c.setStatus(models.StatusTracking, c.CurrentTarget())
	c.logger.Info("Imaging stopped")
	return nil
}

// Park moves the telescope to its stowed position.
func (c *Client) Park(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.send("scope_park", map[string]interface{}{"equ_mode": false}); err != nil {
		return fmt.Errorf("failed to park telescope: %w", err)
	}
	c.setStatus(models.StatusParked, "")
	c.logger.Info("Telescope parked")
	return nil
}

// Unpark raises the telescope from its stowed position and requests a
// device-state refresh so the event stream reflects the new pose.
func (c *Client) Unpark(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.send("scope_move_to_horizon", nil); err != nil {
		return fmt.Errorf("failed to unpark telescope: %w", err)
	}
	if err := c.send("get_device_state", deviceStateParams()); err != nil {
		return fmt.Errorf("failed to refresh device state: %w", err)
	}
	c.setStatus(models.StatusIdle, "")
	c.logger.Info("Telescope unparked")
	return nil
}

// EmergencyStop aborts everything the device is doing: slew, stacking, view.
// Fire-and-forget on purpose; waiting for confirmation would defeat the
// point.
func (c *Client) EmergencyStop(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.logger.Warn("Emergency stop issued")
	if err := c.send("iscope_stop_view", map[string]interface{}{"stage": "All"}); err != nil {
		return fmt.Errorf("emergency stop failed: %w", err)
	}
	c.ops.reset()
	c.setStatus(models.StatusIdle, "")
	return nil
}

// StartCalibration always fails: the Seestar protocol exposes no remote
// calibration or polar-alignment commands.
func (c *Client) StartCalibration(ctx context.Context) error {
	return ErrCalibrationUnsupported
}

// CalibrationStatus reports the fixed not-started state for the same reason.
func (c *Client) CalibrationStatus() map[string]interface{} {
	return map[string]interface{}{
		"supported": false,
		"state":     "not_started",
		"message":   ErrCalibrationUnsupported.Error(),
	}
}

func deviceStateParams() map[string]interface{} {
	return map[string]interface{}{
		"keys": []string{"device", "setting", "location_lon_lat", "pi_status", "mount"},
	}
}

// The query methods below are thin command issuers. The protocol is
// asynchronous: each of these requests a report that arrives later as a
// frame on the event stream, so they return once the request is on the wire.

// RequestDeviceState asks for the hardware sensor report (battery,
// temperature, mount pose).
func (c *Client) RequestDeviceState(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("get_device_state", deviceStateParams())
}

// RequestViewState asks for the current view-stage report.
func (c *Client) RequestViewState(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("get_view_state", nil)
}

// RequestStationState asks for the Wi-Fi station report.
func (c *Client) RequestStationState(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("pi_station_state", nil)
}

// RequestStackSetting asks for the current stacking configuration.
func (c *Client) RequestStackSetting(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("get_stack_setting", nil)
}

// SetStackSetting updates the stacking configuration (exposure, gain and
// related keys, passed through as-is).
func (c *Client) SetStackSetting(ctx context.Context, settings map[string]interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(settings) == 0 {
		return fmt.Errorf("empty stack settings")
	}
	return c.send("set_stack_setting", settings)
}

// RequestFocuserPosition asks for the focuser position report.
func (c *Client) RequestFocuserPosition(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("get_focuser_position", nil)
}

// MoveFocuser commands an absolute focuser move.
func (c *Client) MoveFocuser(ctx context.Context, position int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if position < 0 {
		return fmt.Errorf("focuser position %d out of range", position)
	}
	return c.send("move_focuser", map[string]interface{}{"step": position, "ret_step": true})
}

// RequestWheelPosition asks for the filter-wheel position report.
func (c *Client) RequestWheelPosition(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("get_wheel_position", nil)
}

// SetWheelPosition selects a filter-wheel slot (0 dark, 1 open, 2 LP filter
// on the S50).
func (c *Client) SetWheelPosition(ctx context.Context, position int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if position < 0 || position > 2 {
		return fmt.Errorf("filter wheel position %d out of range [0,2]", position)
	}
	return c.send("set_wheel_position", []int{position})
}

// RequestCoordinates asks for a mount coordinate report.
func (c *Client) RequestCoordinates(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send("scope_get_equ_coord", nil)
}

// CurrentTarget returns the display name of the target last slewed to, empty
// when idle.
func (c *Client) CurrentTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTarget
}

// State returns a caller-facing snapshot of the session.
func (c *Client) State() models.TelescopeState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return models.TelescopeState{
		Status:        c.status,
		Connected:     c.connected,
		IsTracking:    c.status == models.StatusTracking || c.status == models.StatusImaging,
		IsParked:      c.status == models.StatusParked,
		CurrentTarget: c.currentTarget,
		LastUpdated:   time.Now(),
	}
}

// OperationState exposes the tracker state for the tool surfaces.
func (c *Client) OperationState() OperationState {
	state, _, _ := c.ops.snapshot()
	return state
}
