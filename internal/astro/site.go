// Package astro provides observer-site handling and the coordinate math
// needed for the pre-slew horizon visibility check.
package astro

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Site is the observer location used for horizontal-coordinate transforms.
// Latitude is degrees north-positive, longitude degrees east-positive,
// elevation meters above sea level.
type Site struct {
	Latitude  *float64
	Longitude *float64
	Elevation float64
	zone      *time.Location
	logger    *zap.Logger
}

// NewSite creates a site. Latitude and longitude may be nil when the
// operator has not configured a location; the visibility gate then fails
// open. An unknown timezone name falls back to a longitude-based offset
// guess, or UTC when no longitude is available either.
func NewSite(latitude, longitude *float64, elevation float64, timezoneName string, logger *zap.Logger) *Site {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "site"))

	s := &Site{
		Latitude:  latitude,
		Longitude: longitude,
		Elevation: elevation,
		logger:    logger,
	}

	if timezoneName != "" {
		zone, err := time.LoadLocation(timezoneName)
		if err == nil {
			s.zone = zone
		} else {
			logger.Warn("Unknown timezone, guessing from longitude",
				zap.String("timezone", timezoneName),
				zap.Error(err))
		}
	}
	if s.zone == nil {
		s.zone = s.guessZone()
	}

	if s.Configured() {
		logger.Info("Observer site configured",
			zap.Float64("latitude", *latitude),
			zap.Float64("longitude", *longitude),
			zap.Float64("elevation_m", elevation),
			zap.String("timezone", s.zone.String()))
	}

	return s
}

// guessZone derives a fixed-offset zone from the longitude. Rough, but only
// used when no IANA name is configured.
func (s *Site) guessZone() *time.Location {
	if s.Longitude == nil {
		return time.UTC
	}

	offset := int(math.Round(*s.Longitude / 15.0))
	if offset < -12 {
		offset = -12
	} else if offset > 12 {
		offset = 12
	}
	if offset == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600)
}

// Configured reports whether both latitude and longitude are set.
func (s *Site) Configured() bool {
	return s != nil && s.Latitude != nil && s.Longitude != nil
}

// LocalNow returns the current time in the site's timezone.
func (s *Site) LocalNow() time.Time {
	return time.Now().In(s.zone)
}

// Zone returns the site's timezone.
func (s *Site) Zone() *time.Location {
	return s.zone
}

// Info returns the site parameters for status reporting.
func (s *Site) Info() map[string]interface{} {
	info := map[string]interface{}{
		"configured": s.Configured(),
		"elevation":  s.Elevation,
		"timezone":   s.zone.String(),
	}
	if s.Latitude != nil {
		info["latitude"] = *s.Latitude
	}
	if s.Longitude != nil {
		info["longitude"] = *s.Longitude
	}
	return info
}
