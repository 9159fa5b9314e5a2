package seestar

import (
	"context"
	"time"

	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
)

var _ healthcheck.Checker = (*Client)(nil)

// Name identifies the client to the health check engine.
func (c *Client) Name() string {
	return "telescope"
}

// Check reports the session state. A disconnected session is degraded, not
// unhealthy: the background loop may still be reconnecting.
func (c *Client) Check(ctx context.Context) *healthcheck.Result {
	state := c.State()

	status := healthcheck.StatusHealthy
	message := "Telescope session active"
	if !state.Connected {
		status = healthcheck.StatusDegraded
		message = "Telescope not connected"
	}

	return &healthcheck.Result{
		ComponentName: c.Name(),
		Status:        status,
		Message:       message,
		Timestamp:     time.Now(),
		Details: map[string]interface{}{
			"status":            string(state.Status),
			"current_target":    state.CurrentTarget,
			"heartbeat_age_sec": c.heartbeatAge().Seconds(),
		},
	}
}
