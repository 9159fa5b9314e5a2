package resolver

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/seestar-bridge/internal/astro"
	"github.com/unklstewy/seestar-bridge/internal/models"
)

// Low-precision solar-system ephemeris based on the JPL approximate
// Keplerian elements (valid 1800-2050). Accuracy is a few arcminutes for
// the planets and a fraction of a degree for the Moon, which is ample for
// a goto command that ends in a plate-solve.

const (
	deg       = math.Pi / 180.0
	obliquity = 23.43928 * deg // mean obliquity of the ecliptic, J2000
)

// keplerElements holds mean orbital elements at J2000 plus per-century
// rates: semi-major axis (AU), eccentricity, inclination, mean longitude,
// longitude of perihelion, longitude of ascending node (degrees).
type keplerElements struct {
	a, e, i, l, lp, node       float64
	da, de, di, dl, dlp, dnode float64
}

var planetElements = map[string]keplerElements{
	"mercury": {0.38709927, 0.20563593, 7.00497902, 252.25032350, 77.45779628, 48.33076593,
		0.00000037, 0.00001906, -0.00594749, 149472.67411175, 0.16047689, -0.12534081},
	"venus": {0.72333566, 0.00677672, 3.39467605, 181.97909950, 131.60246718, 76.67984255,
		0.00000390, -0.00004107, -0.00078890, 58517.81538729, 0.00268329, -0.27769418},
	"earth": {1.00000261, 0.01671123, -0.00001531, 100.46457166, 102.93768193, 0,
		0.00000562, -0.00004392, -0.01294668, 35999.37244981, 0.32327364, 0},
	"mars": {1.52371034, 0.09339410, 1.84969142, -4.55343205, -23.94362959, 49.55953891,
		0.00001847, 0.00007882, -0.00813131, 19140.30268499, 0.44441088, -0.29257343},
	"jupiter": {5.20288700, 0.04838624, 1.30439695, 34.39644051, 14.72847983, 100.47390909,
		-0.00011607, -0.00013253, -0.00183714, 3034.74612775, 0.21252668, 0.20469106},
	"saturn": {9.53667594, 0.05386179, 2.48599187, 49.95424423, 92.59887831, 113.66242448,
		-0.00125060, -0.00050991, 0.00193609, 1222.49362201, -0.41897216, -0.28867794},
	"uranus": {19.18916464, 0.04725744, 0.77263783, 313.23810451, 170.95427630, 74.01692503,
		-0.00196176, -0.00004397, -0.00242939, 428.48202785, 0.40805281, 0.04240589},
	"neptune": {30.06992276, 0.00859048, 1.77004347, -55.12002969, 44.96476227, 131.78422574,
		0.00026291, 0.00005105, 0.00035372, 218.45945325, -0.32241464, -0.00508664},
}

// approximate visual magnitudes; planets vary with distance but the values
// only annotate resolver results.
var planetMagnitudes = map[string]float64{
	"mercury": -1.9, "venus": -4.6, "mars": -2.9, "jupiter": -2.9,
	"saturn": 0.7, "uranus": 5.7, "neptune": 7.8,
}

// heliocentric returns the body's heliocentric ecliptic position in AU.
func (el keplerElements) heliocentric(t time.Time) (x, y, z float64) {
	cy := (astro.JulianDate(t.UTC()) - 2451545.0) / 36525.0

	a := el.a + el.da*cy
	e := el.e + el.de*cy
	i := (el.i + el.di*cy) * deg
	l := el.l + el.dl*cy
	lp := el.lp + el.dlp*cy
	node := (el.node + el.dnode*cy) * deg

	omega := lp*deg - node         // argument of perihelion
	m := math.Mod(l-lp, 360) * deg // mean anomaly

	// Kepler's equation, Newton iteration.
	ecc := m
	for iter := 0; iter < 10; iter++ {
		ecc = ecc - (ecc-e*math.Sin(ecc)-m)/(1-e*math.Cos(ecc))
	}

	// Position in the orbital plane.
	xp := a * (math.Cos(ecc) - e)
	yp := a * math.Sqrt(1-e*e) * math.Sin(ecc)

	// Rotate to the ecliptic frame.
	cosO, sinO := math.Cos(omega), math.Sin(omega)
	cosN, sinN := math.Cos(node), math.Sin(node)
	cosI, sinI := math.Cos(i), math.Sin(i)

	x = (cosO*cosN-sinO*sinN*cosI)*xp + (-sinO*cosN-cosO*sinN*cosI)*yp
	y = (cosO*sinN+sinO*cosN*cosI)*xp + (-sinO*sinN+cosO*cosN*cosI)*yp
	z = sinO*sinI*xp + cosO*sinI*yp
	return x, y, z
}

// eclipticToEquatorial converts geocentric ecliptic rectangular coordinates
// to RA (hours) and Dec (degrees).
func eclipticToEquatorial(x, y, z float64) (raHours, decDegrees float64) {
	xe := x
	ye := y*math.Cos(obliquity) - z*math.Sin(obliquity)
	ze := y*math.Sin(obliquity) + z*math.Cos(obliquity)

	r := math.Sqrt(xe*xe + ye*ye + ze*ze)
	ra := math.Atan2(ye, xe) / deg
	if ra < 0 {
		ra += 360
	}
	dec := math.Asin(ze/r) / deg
	return ra / 15.0, dec
}

// planetCoordinates computes geocentric equatorial coordinates for a planet.
func planetCoordinates(name string, t time.Time) (models.Coordinates, error) {
	el, ok := planetElements[name]
	if !ok {
		return models.Coordinates{}, fmt.Errorf("no orbital elements for %q", name)
	}

	px, py, pz := el.heliocentric(t)
	ex, ey, ez := planetElements["earth"].heliocentric(t)

	ra, dec := eclipticToEquatorial(px-ex, py-ey, pz-ez)
	return models.Coordinates{RA: ra, Dec: dec, Epoch: "J2000"}, nil
}

// sunCoordinates computes the geocentric solar position: the Sun seen from
// Earth is the negated heliocentric Earth vector.
func sunCoordinates(t time.Time) models.Coordinates {
	ex, ey, ez := planetElements["earth"].heliocentric(t)
	ra, dec := eclipticToEquatorial(-ex, -ey, -ez)
	return models.Coordinates{RA: ra, Dec: dec, Epoch: "J2000"}
}

// moonCoordinates computes the lunar position from the Astronomical Almanac
// low-precision series (accuracy a few tenths of a degree).
func moonCoordinates(t time.Time) models.Coordinates {
	cy := (astro.JulianDate(t.UTC()) - 2451545.0) / 36525.0

	sin := func(d float64) float64 { return math.Sin(d * deg) }

	lambda := 218.32 + 481267.8813*cy +
		6.29*sin(134.9+477198.85*cy) -
		1.27*sin(259.2-413335.38*cy) +
		0.66*sin(235.7+890534.23*cy) +
		0.21*sin(269.9+954397.70*cy) -
		0.19*sin(357.5+35999.05*cy) -
		0.11*sin(186.6+966404.05*cy)

	beta := 5.13*sin(93.3+483202.03*cy) +
		0.28*sin(228.2+960400.87*cy) -
		0.28*sin(318.3+6003.18*cy) -
		0.17*sin(217.6-407332.20*cy)

	// Unit vector in the ecliptic frame; distance is irrelevant for RA/Dec.
	x := math.Cos(beta*deg) * math.Cos(lambda*deg)
	y := math.Cos(beta*deg) * math.Sin(lambda*deg)
	z := math.Sin(beta * deg)

	ra, dec := eclipticToEquatorial(x, y, z)
	return models.Coordinates{RA: ra, Dec: dec, Epoch: "J2000"}
}

// solarSystemTarget resolves a solar-system body name to a Target with
// current coordinates, or nil if the name is not a known body.
func solarSystemTarget(name string, t time.Time) (*models.Target, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	var coords models.Coordinates
	var objectType string
	var magnitude float64

	switch key {
	case "sun":
		coords = sunCoordinates(t)
		objectType = "Star"
		magnitude = -26.7
	case "moon":
		coords = moonCoordinates(t)
		objectType = "Satellite"
		magnitude = -12.9
	case "mercury", "venus", "mars", "jupiter", "saturn", "uranus", "neptune":
		var err error
		coords, err = planetCoordinates(key, t)
		if err != nil {
			return nil, err
		}
		objectType = "Planet"
		magnitude = planetMagnitudes[key]
	default:
		return nil, nil
	}

	displayName := strings.ToUpper(key[:1]) + key[1:]
	if key == "sun" {
		displayName += " ⚠️ SOLAR OBSERVATION: Ensure proper solar filter is installed!"
	}

	mag := magnitude
	return &models.Target{
		Name:        displayName,
		Coordinates: coords,
		Magnitude:   &mag,
		ObjectType:  objectType,
	}, nil
}
