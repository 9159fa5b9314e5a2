package seestar

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/astro"
	"github.com/unklstewy/seestar-bridge/internal/models"
	"go.uber.org/zap"
)

// GotoRequest describes a slew.
type GotoRequest struct {
	Coordinates models.Coordinates
	TargetName  string
	Mosaic      *models.MosaicParams
	// SkipVisibilityCheck bypasses the horizon gate. Solar targets use
	// this since their pointing is handled by the dedicated solar flow.
	SkipVisibilityCheck bool
}

// startViewParams is the wire shape of the iscope_start_view goto command.
type startViewParams struct {
	Mode        string        `json:"mode"`
	TargetRADec [2]float64    `json:"target_ra_dec"`
	TargetName  string        `json:"target_name"`
	LPFilter    bool          `json:"lp_filter"`
	AutoCenter  bool          `json:"auto_center"`
	Mosaic      *mosaicFields `json:"mosaic,omitempty"`
}

type mosaicFields struct {
	Enable bool `json:"enable"`
	Width  int  `json:"width"`
	Height int  `json:"height"`
}

// round6 limits coordinate precision to what the device accepts. Six decimal
// places of a degree is a few milliarcseconds, far beyond mount accuracy.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// GotoCoordinates slews the telescope. The sequence is: validate, check the
// target against the local horizon, issue the goto, then poll the operation
// state driven by the device's AutoGoto events until it completes, fails, or
// the wait times out.
//
// A timeout is treated as success: the device sometimes stops emitting
// AutoGoto events even though the slew landed, and the subsequent
// plate-solve corrects any real miss.
func (c *Client) GotoCoordinates(ctx context.Context, req GotoRequest) error {
	if err := req.Coordinates.Validate(); err != nil {
		return fmt.Errorf("invalid goto coordinates: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	name := req.TargetName
	if name == "" {
		name = astro.FormatCoordinates(req.Coordinates)
	}

	// The Sun never goes through the star-mode goto; the device has a
	// dedicated solar workflow with its own pointing and safety story.
	if IsSunTarget(name) {
		return c.StartSolarObservation(ctx, name)
	}

	if c.gate != nil && !req.SkipVisibilityCheck {
		verdict := c.gate.CheckVisibility(req.Coordinates, time.Now())
		if !verdict.IsVisible {
			c.logger.Warn("Goto refused: target below horizon",
				zap.String("target", name),
				zap.Float64("altitude", verdict.Altitude))
			return &BelowHorizonError{Target: name, Altitude: verdict.Altitude}
		}
		c.logger.Debug("Visibility check passed",
			zap.String("target", name),
			zap.String("verdict", verdict.Message))
	}

	params := startViewParams{
		Mode: "star",
		TargetRADec: [2]float64{
			round6(req.Coordinates.RADegrees()),
			round6(req.Coordinates.Dec),
		},
		TargetName: name,
		LPFilter:   false,
		AutoCenter: true,
	}
	if req.Mosaic != nil {
		m := req.Mosaic.Clamped()
		params.Mosaic = &mosaicFields{Enable: true, Width: m.Width, Height: m.Height}
		params.TargetName = fmt.Sprintf("%s (Mosaic %dx%d)", name, m.Width, m.Height)
	}

	c.logger.Info("Starting goto",
		zap.String("target", params.TargetName),
		zap.Float64("ra_deg", params.TargetRADec[0]),
		zap.Float64("dec_deg", params.TargetRADec[1]))

	c.ops.begin()
	c.setStatus(models.StatusSlewing, params.TargetName)

	if err := c.send("iscope_start_view", params); err != nil {
		c.ops.reset()
		c.setStatus(models.StatusConnected, "")
		return err
	}

	return c.waitForGoto(params.TargetName)
}

// waitForGoto polls the operation tracker until a terminal state or the
// configured timeout. While slewing it periodically re-requests the mount
// coordinates, which keeps traffic flowing and the heartbeat fresh.
func (c *Client) waitForGoto(target string) error {
	deadline := time.Now().Add(c.cfg.GotoTimeout)
	lastProbe := time.Now()

	for {
		state, detail, raw := c.ops.snapshot()
		switch state {
		case OpComplete:
			c.setStatus(models.StatusTracking, target)
			c.logger.Info("Goto complete", zap.String("target", target))
			return nil
		case OpFailed:
			c.setStatus(models.StatusConnected, "")
			return c.classifyGotoFailure(target, detail, raw)
		}

		if time.Now().After(deadline) {
			c.logger.Warn("Goto wait timed out, assuming slew completed",
				zap.String("target", target),
				zap.Duration("waited", c.cfg.GotoTimeout))
			c.setStatus(models.StatusTracking, target)
			return nil
		}

		if time.Since(lastProbe) >= c.cfg.CoordProbeInterval {
			lastProbe = time.Now()
			if err := c.send("scope_get_equ_coord", nil); err != nil {
				c.logger.Debug("Coordinate probe failed during slew", zap.Error(err))
			}
		}

		time.Sleep(c.cfg.GotoPollInterval)
	}
}

// classifyGotoFailure turns a device-reported AutoGoto failure into a typed
// error. The device's error strings are informal, so this is substring
// matching over the reported reason and the raw frame.
func (c *Client) classifyGotoFailure(target, detail string, raw []byte) error {
	haystack := strings.ToLower(detail + " " + string(raw))

	switch {
	case strings.Contains(haystack, "below horizon") ||
		strings.Contains(haystack, "below the horizon"):
		return &DeviceGotoError{
			Target: target,
			Reason: ReasonBelowHorizon,
			Detail: detail,
		}
	case strings.Contains(haystack, "goto failed") ||
		strings.Contains(haystack, "mount"):
		if detail == "" {
			detail = "mount goto failed"
		}
		return &DeviceGotoError{
			Target:                  target,
			Reason:                  ReasonMechanical,
			Detail:                  detail,
			SolarInterlockSuspected: IsSolarTarget(target),
		}
	default:
		return &DeviceGotoError{
			Target: target,
			Reason: ReasonUnknown,
			Detail: detail,
		}
	}
}

// solarKeywords drives the solar/planetary target heuristic. Substring
// matching is deliberately loose; it flags "Sunflower Galaxy" too, which is
// acceptable for a diagnostic hint.
var solarKeywords = []string{
	"sun", "solar", "sol", "mercury", "venus", "mars",
	"jupiter", "saturn", "uranus", "neptune",
}

// IsSolarTarget reports whether a target name refers to a solar-system body.
// Used for interlock diagnostics on a failed goto.
func IsSolarTarget(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range solarKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsSunTarget matches the Sun itself, including the resolver's annotated
// form ("Sun ⚠️ ..."), without catching names like "Sunflower Galaxy". It is
// deliberately narrower than IsSolarTarget: it routes gotos to the solar
// workflow, where a false positive would point the telescope at the sun.
func IsSunTarget(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return lower == "sun" || lower == "sol" || strings.HasPrefix(lower, "sun ")
}

// StartSolarObservation runs the device's dedicated solar workflow: switch
// the view to sun mode, start the planetary scan that centers the disc, then
// clear the scan state so the app UI is not left mid-wizard. There is no
// polling; sun mode reports no AutoGoto events.
//
// The caller is responsible for confirming a solar filter is installed.
func (c *Client) StartSolarObservation(ctx context.Context, targetName string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if targetName == "" {
		targetName = "Sun"
	}

	c.logger.Info("Starting solar observation", zap.String("target", targetName))

	if err := c.send("iscope_start_view", map[string]interface{}{"mode": "sun"}); err != nil {
		return fmt.Errorf("failed to enter solar mode: %w", err)
	}
	if err := c.send("start_scan_planet", nil); err != nil {
		return fmt.Errorf("failed to start solar scan: %w", err)
	}
	if err := c.send("clear_app_state", map[string]interface{}{"name": "ScanSun"}); err != nil {
		return fmt.Errorf("failed to clear scan state: %w", err)
	}

	c.setStatus(models.StatusTracking, targetName)
	return nil
}

func (c *Client) setStatus(status models.TelescopeStatus, target string) {
	c.mu.Lock()
	c.status = status
	c.currentTarget = target
	c.mu.Unlock()
}
