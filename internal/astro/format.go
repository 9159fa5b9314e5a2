package astro

import (
	"fmt"
	"math"

	"github.com/unklstewy/seestar-bridge/internal/models"
)

// HoursToHMS splits decimal hours into hours, minutes, seconds.
func HoursToHMS(hours float64) (h, m int, s float64) {
	h = int(hours)
	m = int((hours - float64(h)) * 60)
	s = ((hours-float64(h))*60 - float64(m)) * 60
	return h, m, s
}

// DegreesToDMS splits decimal degrees into a sign rune and unsigned degrees,
// minutes, seconds. The sign travels separately so declinations between -1°
// and 0° do not lose it to the zero degree component.
func DegreesToDMS(degrees float64) (sign rune, d, m int, s float64) {
	sign = '+'
	if degrees < 0 {
		sign = '-'
	}
	degrees = math.Abs(degrees)
	d = int(degrees)
	m = int((degrees - float64(d)) * 60)
	s = ((degrees-float64(d))*60 - float64(m)) * 60
	return sign, d, m, s
}

// FormatCoordinates renders coordinates in the conventional sexagesimal
// notation used in status messages and logs.
func FormatCoordinates(coords models.Coordinates) string {
	raH, raM, raS := HoursToHMS(coords.RA)
	decSign, decD, decM, decS := DegreesToDMS(coords.Dec)

	return fmt.Sprintf("RA: %02dh %02dm %05.2fs, DEC: %c%02d° %02d' %05.2f\"",
		raH, raM, raS, decSign, decD, decM, decS)
}
