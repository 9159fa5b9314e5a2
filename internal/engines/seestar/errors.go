package seestar

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a command is issued without an active
// session. It is a local precondition failure; nothing is sent on the wire.
var ErrNotConnected = errors.New("not connected to telescope")

// ErrCalibrationUnsupported is returned by calibration operations. The
// Seestar exposes no remote calibration commands; polar alignment and
// calibration must be performed with the vendor mobile app. This is fatal
// for the single operation, not for the connection.
var ErrCalibrationUnsupported = errors.New(
	"calibration must be performed using the Seestar mobile app: the telescope does not support remote calibration via TCP commands")

// TransportError wraps a socket-level failure. Raising one always flips the
// session to disconnected so the background loop begins recovery.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BelowHorizonError is the pre-flight safety refusal: the visibility gate
// rejected the target before any command was sent to the device.
type BelowHorizonError struct {
	Target   string
	Altitude float64
}

func (e *BelowHorizonError) Error() string {
	return fmt.Sprintf(
		"target %q is below the horizon (altitude: %.1f°); it is not visible from your location at this time, try again when the target has risen",
		e.Target, e.Altitude)
}

// GotoFailureReason classifies a device-reported goto failure.
type GotoFailureReason string

const (
	// ReasonBelowHorizon: the device itself reported the target below horizon.
	ReasonBelowHorizon GotoFailureReason = "below_horizon"
	// ReasonMechanical: the mount goto mechanism failed, possibly a safety interlock.
	ReasonMechanical GotoFailureReason = "mechanical"
	// ReasonUnknown: the device reported failure without a recognized cause.
	ReasonUnknown GotoFailureReason = "unknown"
)

// DeviceGotoError means the device accepted the goto command but its
// internal AutoGoto machinery reported failure.
type DeviceGotoError struct {
	Target string
	Reason GotoFailureReason
	Detail string
	// SolarInterlockSuspected is set when a mechanical failure coincides
	// with a solar target name: the device has built-in protection against
	// solar pointing.
	SolarInterlockSuspected bool
}

func (e *DeviceGotoError) Error() string {
	switch e.Reason {
	case ReasonBelowHorizon:
		return fmt.Sprintf(
			"target %q is below the horizon and not visible from your current location at this time; try a different target or wait until it rises",
			e.Target)
	case ReasonMechanical:
		if e.SolarInterlockSuspected {
			return fmt.Sprintf(
				"telescope slewing to %q failed: %s; the telescope may have built-in safety protection preventing solar pointing, ensure a proper solar filter is installed and safety settings allow solar observation",
				e.Target, e.Detail)
		}
		return fmt.Sprintf(
			"telescope slewing to %q failed: %s; this may indicate a mechanical issue or safety protection",
			e.Target, e.Detail)
	default:
		detail := e.Detail
		if detail == "" {
			detail = "unknown error"
		}
		return fmt.Sprintf("telescope slewing to %q failed: %s", e.Target, detail)
	}
}
