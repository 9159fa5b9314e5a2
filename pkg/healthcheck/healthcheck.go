// Package healthcheck provides component health monitoring: a Checker
// interface components implement, and an engine that runs all registered
// checks on a schedule and aggregates the results.
package healthcheck

import (
	"context"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is functioning normally
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is functioning but with issues
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning properly
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the health status cannot be determined
	StatusUnknown Status = "unknown"
)

// Result contains the health check result for a component.
type Result struct {
	// ComponentName identifies the component being checked
	ComponentName string `json:"component"`
	// Status is the health status
	Status Status `json:"status"`
	// Message provides additional context about the health status
	Message string `json:"message,omitempty"`
	// Timestamp when the check was performed
	Timestamp time.Time `json:"timestamp"`
	// Duration of the health check
	Duration time.Duration `json:"duration"`
	// Details contains component-specific health information
	Details map[string]interface{} `json:"details,omitempty"`
}

// Checker is the interface components implement for health checking.
type Checker interface {
	// Check performs a health check and returns the result
	Check(ctx context.Context) *Result
	// Name returns the name of the component being checked
	Name() string
}

// namedChecker adapts a function to the Checker interface.
type namedChecker struct {
	name string
	fn   func(ctx context.Context) *Result
}

func (c *namedChecker) Check(ctx context.Context) *Result { return c.fn(ctx) }
func (c *namedChecker) Name() string                      { return c.name }

// CheckFunc wraps an ordinary function as a named Checker.
func CheckFunc(name string, fn func(ctx context.Context) *Result) Checker {
	return &namedChecker{name: name, fn: fn}
}

// AggregatedResult contains health check results from multiple components.
type AggregatedResult struct {
	// OverallStatus is the aggregated health status
	OverallStatus Status `json:"status"`
	// Components contains individual component health results
	Components map[string]*Result `json:"components"`
	// Timestamp when the aggregation was performed
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy returns true if the overall status is healthy.
func (ar *AggregatedResult) IsHealthy() bool {
	return ar.OverallStatus == StatusHealthy
}

// DetermineOverallStatus calculates the overall status from component
// results: any unhealthy component wins, then degraded/unknown, then healthy.
func DetermineOverallStatus(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded, StatusUnknown:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
