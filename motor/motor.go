// Package motor maps signed speed commands onto forward/reverse PWM
// hardware and carries the emergency-stop interlock every command path
// must pass through.
package motor

// MaxCommand is the full-scale PWM magnitude.
const MaxCommand = 255

// Driver drives one axis's motor.
type Driver interface {
	// SetSpeed commands a signed magnitude in [-MaxCommand, MaxCommand].
	// Zero applies the driver's brake or coast policy.
	SetSpeed(speed int)
	// Stop commands zero speed and de-energizes the driver if it has an
	// enable pin.
	Stop()
}

// PWM is the electrical surface an Axis writes to: a forward/reverse
// duty-cycle pair plus an optional enable line.
type PWM interface {
	Write(fwd, rev int)
	Enable(on bool)
}

// Policy describes the connected driver hardware. An H-bridge like the
// L298N needs a minimum duty cycle to overcome its dead zone and coasts
// on zero; other drivers brake by shorting the windings.
type Policy struct {
	// MinPWM is the floor for non-zero commands. Commands smaller in
	// magnitude are snapped to the floor, preserving direction.
	MinPWM int
	// Brake drives both channels high on a zero command instead of
	// letting the motor coast.
	Brake bool
	// UseEnable gates the driver through its enable line.
	UseEnable bool
}

// Axis is a Driver for one mount axis.
type Axis struct {
	out PWM
	pol Policy
}

func NewAxis(out PWM, pol Policy) *Axis {
	return &Axis{out: out, pol: pol}
}

func clampCommand(speed int) int {
	if speed > MaxCommand {
		return MaxCommand
	}
	if speed < -MaxCommand {
		return -MaxCommand
	}
	return speed
}

func (a *Axis) SetSpeed(speed int) {
	speed = clampCommand(speed)
	if speed != 0 && speed > -a.pol.MinPWM && speed < a.pol.MinPWM {
		if speed > 0 {
			speed = a.pol.MinPWM
		} else {
			speed = -a.pol.MinPWM
		}
	}
	if a.pol.UseEnable {
		a.out.Enable(true)
	}
	switch {
	case speed > 0:
		a.out.Write(speed, 0)
	case speed < 0:
		a.out.Write(0, -speed)
	case a.pol.Brake:
		a.out.Write(MaxCommand, MaxCommand)
	default:
		a.out.Write(0, 0)
	}
}

func (a *Axis) Stop() {
	a.SetSpeed(0)
	if a.pol.UseEnable {
		a.out.Enable(false)
	}
}
