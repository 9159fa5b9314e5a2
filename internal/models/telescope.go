// Package models defines the shared data structures for the Seestar bridge.
package models

import (
	"fmt"
	"time"
)

// TelescopeStatus enumerates the high-level telescope states reported to
// callers.
type TelescopeStatus string

const (
	StatusDisconnected TelescopeStatus = "disconnected"
	StatusConnected    TelescopeStatus = "connected"
	StatusIdle         TelescopeStatus = "idle"
	StatusSlewing      TelescopeStatus = "slewing"
	StatusTracking     TelescopeStatus = "tracking"
	StatusImaging      TelescopeStatus = "imaging"
	StatusParked       TelescopeStatus = "parked"
	StatusError        TelescopeStatus = "error"
)

// Coordinates is an equatorial position. RA is in hours, Dec in degrees.
type Coordinates struct {
	RA    float64 `json:"ra"`
	Dec   float64 `json:"dec"`
	Epoch string  `json:"epoch"`
}

// Validate checks the coordinate ranges: RA in [0,24), Dec in [-90,90].
func (c Coordinates) Validate() error {
	if c.RA < 0 || c.RA >= 24 {
		return fmt.Errorf("right ascension %.6f out of range [0,24)", c.RA)
	}
	if c.Dec < -90 || c.Dec > 90 {
		return fmt.Errorf("declination %.6f out of range [-90,90]", c.Dec)
	}
	return nil
}

// RADegrees returns the right ascension converted from hours to degrees.
func (c Coordinates) RADegrees() float64 {
	return c.RA * 15.0
}

// Target is a resolved astronomical object.
type Target struct {
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	Magnitude   *float64    `json:"magnitude,omitempty"`
	ObjectType  string      `json:"object_type,omitempty"`
}

// TargetSearchResult is the outcome of a name resolution attempt.
type TargetSearchResult struct {
	Found        bool     `json:"found"`
	Target       *Target  `json:"target,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	SearchQuery  string   `json:"search_query"`
}

// TelescopeInfo describes the connected device. The Seestar protocol exposes
// no real identity query, so most fields are static.
type TelescopeInfo struct {
	DeviceName      string `json:"device_name"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
	SerialNumber    string `json:"serial_number"`
	MountType       string `json:"mount_type"`
}

// TelescopeState is a caller-facing status snapshot.
type TelescopeState struct {
	Status        TelescopeStatus `json:"status"`
	Connected     bool            `json:"connected"`
	RA            *float64        `json:"ra,omitempty"`
	Dec           *float64        `json:"dec,omitempty"`
	IsTracking    bool            `json:"is_tracking"`
	IsParked      bool            `json:"is_parked"`
	CurrentTarget string          `json:"current_target,omitempty"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// MosaicParams describes a multi-tile imaging grid attached to a goto or
// imaging command. Width and height are clamped to [1,2] by the device
// protocol.
type MosaicParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clamped returns a copy with width and height forced into [1,2].
func (m MosaicParams) Clamped() MosaicParams {
	clamp := func(v int) int {
		if v < 1 {
			return 1
		}
		if v > 2 {
			return 2
		}
		return v
	}
	return MosaicParams{Width: clamp(m.Width), Height: clamp(m.Height)}
}

// ImagingParams configures an imaging (stacking) session.
type ImagingParams struct {
	ExposureTime float64       `json:"exposure_time"`
	Count        int           `json:"count"`
	Gain         *int          `json:"gain,omitempty"`
	Mosaic       *MosaicParams `json:"mosaic,omitempty"`
}

// VisibilityVerdict is the result of the pre-slew horizon check. It is
// derived per call and never stored.
type VisibilityVerdict struct {
	IsVisible bool    `json:"is_visible"`
	Altitude  float64 `json:"altitude_degrees"`
	Message   string  `json:"message"`
}

// Response is the generic envelope returned by the tool-dispatch surfaces.
type Response struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
