package track

import (
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/satmount/tracker/control"
	"github.com/satmount/tracker/gps"
	"github.com/satmount/tracker/handoff"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// JulianDate converts a UTC time to a Julian date using the Gregorian
// day-number formula.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y, m, d := t.Date()
	a := (14 - int(m)) / 12
	yy := y + 4800 - a
	mm := int(m) + 12*a - 3
	jdn := d + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045
	frac := (float64(t.Hour())-12)/24 +
		float64(t.Minute())/1440 +
		(float64(t.Second())+float64(t.Nanosecond())*1e-9)/86400
	return float64(jdn) + frac
}

// Ephemeris propagates one satellite's orbit and answers look angles
// from an observer on the ground.
type Ephemeris struct {
	name string
	sat  satellite.Satellite
}

// NewEphemeris parses a two-line element set into a propagator. The
// element set must already be structurally valid.
func NewEphemeris(tle handoff.TLE) (*Ephemeris, error) {
	if err := tle.Validate(); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72)
	e := &Ephemeris{name: tle.Name, sat: sat}
	// Propagating at the element epoch flushes out element sets the
	// parser accepted but SGP4 cannot integrate.
	if _, _, err := e.Look(gps.Fix{Valid: true}, time.Now()); err != nil {
		return nil, fmt.Errorf("element set does not propagate: %w", err)
	}
	return e, nil
}

// Name returns the element set's satellite name.
func (e *Ephemeris) Name() string { return e.name }

// Look returns the azimuth and elevation in degrees of the satellite as
// seen from fix at time t.
func (e *Ephemeris) Look(fix gps.Fix, t time.Time) (az, el float64, err error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	pos, _ := satellite.Propagate(e.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) {
		return 0, 0, fmt.Errorf("propagation failed at %v", t)
	}
	obs := satellite.LatLong{
		Latitude:  fix.Latitude * degToRad,
		Longitude: fix.Longitude * degToRad,
	}
	angles := satellite.ECIToLookAngles(pos, obs, fix.Altitude/1000, JulianDate(t))
	return control.Wrap360(angles.Az * radToDeg), angles.El * radToDeg, nil
}
