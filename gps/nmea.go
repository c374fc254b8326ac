package gps

import (
	"strconv"
	"strings"
	"time"
)

// NMEAParser accumulates GGA and RMC sentences into fixes. GGA carries
// the position and altitude, RMC the calendar date; a fix is emitted
// on each GGA once both have been seen. Parse is a ParseFunc.
//
// Not safe for concurrent use; the receiver feeds it from one
// goroutine.
type NMEAParser struct {
	year, month, day int
}

func (p *NMEAParser) Parse(line string) (Fix, bool) {
	fields, ok := checksum(line)
	if !ok || len(fields) == 0 {
		return Fix{}, false
	}
	switch {
	case strings.HasSuffix(fields[0], "RMC"):
		p.parseRMC(fields)
		return Fix{}, false
	case strings.HasSuffix(fields[0], "GGA"):
		return p.parseGGA(fields)
	}
	return Fix{}, false
}

// checksum validates "$...*hh" framing and returns the comma-separated
// fields of the payload.
func checksum(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 4 || line[0] != '$' {
		return nil, false
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 != len(line) {
		return nil, false
	}
	body := line[1:star]
	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return nil, false
	}
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	if sum != byte(want) {
		return nil, false
	}
	return strings.Split(body, ","), true
}

func (p *NMEAParser) parseRMC(f []string) {
	// f[9] is ddmmyy. The date is remembered even for a void fix so
	// the first valid GGA afterwards can be timestamped.
	if len(f) < 10 || len(f[9]) != 6 {
		return
	}
	d, err1 := strconv.Atoi(f[9][0:2])
	m, err2 := strconv.Atoi(f[9][2:4])
	y, err3 := strconv.Atoi(f[9][4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	p.year, p.month, p.day = 2000+y, m, d
}

func (p *NMEAParser) parseGGA(f []string) (Fix, bool) {
	if len(f) < 10 {
		return Fix{}, false
	}
	quality, err := strconv.Atoi(f[6])
	if err != nil || quality == 0 {
		// No solution: an explicit invalid fix, so consumers stop
		// trusting the previous one.
		return Fix{}, true
	}
	if p.year == 0 {
		// Position but no calendar date yet; an untimestamped fix is
		// useless to the propagator.
		return Fix{}, false
	}
	lat, ok := parseAngle(f[2], f[3], 2)
	if !ok {
		return Fix{}, false
	}
	lon, ok := parseAngle(f[4], f[5], 3)
	if !ok {
		return Fix{}, false
	}
	alt, err := strconv.ParseFloat(f[9], 64)
	if err != nil {
		return Fix{}, false
	}
	t, ok := p.clock(f[1])
	if !ok {
		return Fix{}, false
	}
	return Fix{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
		Time:      t,
		Valid:     true,
	}, true
}

// clock combines the remembered RMC date with the GGA time of day.
func (p *NMEAParser) clock(tod string) (time.Time, bool) {
	if len(tod) < 6 {
		return time.Time{}, false
	}
	h, err1 := strconv.Atoi(tod[0:2])
	min, err2 := strconv.Atoi(tod[2:4])
	sec, err3 := strconv.ParseFloat(tod[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	ns := int(sec * float64(time.Second))
	return time.Date(p.year, time.Month(p.month), p.day, h, min, 0, ns, time.UTC), true
}

// parseAngle converts NMEA ddmm.mmmm / dddmm.mmmm plus hemisphere to
// signed decimal degrees.
func parseAngle(dm, hemi string, degDigits int) (float64, bool) {
	if len(dm) <= degDigits {
		return 0, false
	}
	deg, err1 := strconv.Atoi(dm[:degDigits])
	min, err2 := strconv.ParseFloat(dm[degDigits:], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	v := float64(deg) + min/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		v = -v
	default:
		return 0, false
	}
	return v, true
}
