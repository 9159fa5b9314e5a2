package astro

import (
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/models"
)

const degToRad = math.Pi / 180.0

// JulianDate converts a time to a Julian Date.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixNano())/(86400*1e9) + 2440587.5
}

// GreenwichSiderealTime returns the Greenwich mean sidereal time in degrees
// for the given instant, in [0,360).
func GreenwichSiderealTime(t time.Time) float64 {
	d := JulianDate(t.UTC()) - 2451545.0
	gmst := 280.46061837 + 360.98564736629*d
	return normalizeDegrees(gmst)
}

// LocalSiderealTime returns the local sidereal time in degrees for an
// east-positive longitude, in [0,360).
func LocalSiderealTime(t time.Time, longitude float64) float64 {
	return normalizeDegrees(GreenwichSiderealTime(t) + longitude)
}

// ToObservingFrame transforms equatorial coordinates to the local horizontal
// frame (altitude and azimuth in degrees, azimuth measured from north
// through east) for the site at the given instant.
func (s *Site) ToObservingFrame(coords models.Coordinates, t time.Time) (altitude, azimuth float64, err error) {
	if !s.Configured() {
		return 0, 0, fmt.Errorf("observer site not configured")
	}

	lat := *s.Latitude * degToRad
	dec := coords.Dec * degToRad

	// Hour angle: how far west of the meridian the target sits.
	hourAngle := normalizeDegrees(LocalSiderealTime(t, *s.Longitude)-coords.RADegrees()) * degToRad

	sinAlt := math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(hourAngle)
	altitude = math.Asin(clampUnit(sinAlt)) / degToRad

	cosAz := (math.Sin(dec) - sinAlt*math.Sin(lat)) / (math.Cos(math.Asin(clampUnit(sinAlt))) * math.Cos(lat))
	azimuth = math.Acos(clampUnit(cosAz)) / degToRad
	if math.Sin(hourAngle) > 0 {
		azimuth = 360 - azimuth
	}

	return altitude, azimuth, nil
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// clampUnit guards acos/asin against floating point drift outside [-1,1].
func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
