package control

import "math"

// Wrap360 normalizes an angle into [0, 360).
func Wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// ShortestPathError returns the signed error from current to target for
// a continuous-rotation axis. The result is always in [-180, 180]; its
// sign picks the geometrically shorter direction, so current=350
// target=10 yields +20, not -340.
func ShortestPathError(target, current float64) float64 {
	e := target - current
	if e > 180 {
		e -= 360
	}
	if e < -180 {
		e += 360
	}
	return e
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
