// Package api defines the service-level interfaces of the Seestar bridge.
package api

import (
	"context"

	"github.com/unklstewy/seestar-bridge/pkg/healthcheck"
)

// Coordinator is the lifecycle contract for the bridge's long-running
// surfaces (the MQTT command surface, the HTTP server).
type Coordinator interface {
	// Name returns the unique name of the coordinator
	Name() string

	// Start initializes and starts the coordinator
	Start(ctx context.Context) error

	// Stop gracefully shuts down the coordinator
	Stop(ctx context.Context) error

	// HealthCheck returns the health status of the coordinator
	HealthCheck(ctx context.Context) *healthcheck.Result

	// IsRunning returns true if the coordinator is currently running
	IsRunning() bool
}
