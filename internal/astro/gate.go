package astro

import (
	"fmt"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/models"
	"go.uber.org/zap"
)

// MinVisibleAltitude is the horizon safety threshold in degrees. A target is
// considered visible only when its altitude is strictly above this value,
// which allows margin for horizon obstructions and atmospheric extinction.
const MinVisibleAltitude = 10.0

// Observer is the location/time collaborator consumed by the visibility
// gate. Site implements it; tests substitute fixed-altitude stubs.
type Observer interface {
	Configured() bool
	LocalNow() time.Time
	ToObservingFrame(coords models.Coordinates, t time.Time) (altitude, azimuth float64, err error)
}

// Gate performs the pre-slew horizon check. It fails open: an unconfigured
// site or an internal computation error must never block a slew, only a
// genuine below-horizon result does. The device's own safety logic is the
// backstop.
type Gate struct {
	observer Observer
	logger   *zap.Logger
}

// NewGate creates a visibility gate for the given observer.
func NewGate(observer Observer, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		observer: observer,
		logger:   logger.With(zap.String("component", "visibility_gate")),
	}
}

// CheckVisibility computes the target's horizon altitude at the given time
// and returns a pass/fail verdict. A zero time means "now" in site-local
// time.
func (g *Gate) CheckVisibility(coords models.Coordinates, t time.Time) models.VisibilityVerdict {
	if g.observer == nil || !g.observer.Configured() {
		g.logger.Warn("No observer site configured, cannot check visibility")
		return models.VisibilityVerdict{
			IsVisible: true,
			Altitude:  0,
			Message:   "Location not configured - visibility unknown",
		}
	}

	if t.IsZero() {
		t = g.observer.LocalNow()
	}

	altitude, azimuth, err := g.observer.ToObservingFrame(coords, t)
	if err != nil {
		g.logger.Error("Visibility computation failed, failing open", zap.Error(err))
		return models.VisibilityVerdict{
			IsVisible: true,
			Altitude:  0,
			Message:   fmt.Sprintf("Visibility check failed: %v", err),
		}
	}

	verdict := models.VisibilityVerdict{
		IsVisible: altitude > MinVisibleAltitude,
		Altitude:  altitude,
	}
	if verdict.IsVisible {
		verdict.Message = fmt.Sprintf("Target is visible at %.1f° altitude, %.1f° azimuth", altitude, azimuth)
	} else {
		verdict.Message = fmt.Sprintf("Target is below horizon at %.1f° altitude (minimum %.0f°)", altitude, MinVisibleAltitude)
	}

	g.logger.Info("Visibility check",
		zap.Bool("visible", verdict.IsVisible),
		zap.Float64("altitude", altitude),
		zap.Float64("azimuth", azimuth))

	return verdict
}
