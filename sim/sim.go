// Package sim is a discrete-time physics model of the mount: two
// motor-driven axes that integrate velocity from the applied PWM,
// emit quadrature transitions into the real decoders, and assert a
// home switch at a reference angle. It stands in for the hardware
// backend so the whole control stack runs unmodified on a laptop.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satmount/tracker/encoder"
)

// Quadrature states in phase order. One full cycle is four counts.
var quadrature = [4][2]bool{{false, false}, {false, true}, {true, true}, {true, false}}

// AxisConfig sets the physical properties of one simulated axis.
type AxisConfig struct {
	// MaxVel is the velocity in degrees/second at full command.
	MaxVel float64
	// Accel is the drive acceleration in degrees/second^2.
	Accel float64
	// Drag is the deceleration while coasting.
	Drag float64
	// DegreesPerPulse converts angle to encoder counts.
	DegreesPerPulse float64
	// Start is the initial true angle.
	Start float64
	// Home is the switch reference angle; the switch asserts within
	// HomeWidth degrees of it (default 1).
	Home      float64
	HomeWidth float64
	// MinStop and MaxStop are mechanical hard stops. They are ignored
	// on a Wrap axis.
	MinStop, MaxStop float64
	Wrap             bool
}

// Axis simulates one motor and its encoder. It is the PWM backend a
// motor.Axis writes to.
type Axis struct {
	cfg AxisConfig
	dec *encoder.Decoder

	mu      sync.Mutex
	angle   float64
	vel     float64
	cmd     float64 // -1..1
	braking bool
	enabled bool
	base    float64 // angle at which the decoder reads zero
	emitted int64
	phase   int
	homeOn  bool
}

func NewAxis(cfg AxisConfig, dec *encoder.Decoder) *Axis {
	if cfg.HomeWidth <= 0 {
		cfg.HomeWidth = 1
	}
	return &Axis{cfg: cfg, dec: dec, angle: cfg.Start, base: cfg.Start, enabled: true}
}

// Write applies the two half-bridge duty cycles, mirroring the
// hardware driver's forward/reverse/brake truth table.
func (a *Axis) Write(fwd, rev int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case fwd > 0 && rev > 0:
		a.cmd, a.braking = 0, true
	case fwd > 0:
		a.cmd, a.braking = float64(fwd)/255, false
	case rev > 0:
		a.cmd, a.braking = -float64(rev)/255, false
	default:
		a.cmd, a.braking = 0, false
	}
}

func (a *Axis) Enable(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = on
}

// Angle returns the true mechanical angle, which tests compare against
// what the decoder reconstructed.
func (a *Axis) Angle() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.Wrap {
		return math.Mod(a.angle+360, 360)
	}
	return a.angle
}

// Velocity returns the current angular velocity.
func (a *Axis) Velocity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vel
}

func (a *Axis) servo(dt float64) {
	target := 0.0
	if a.enabled && !a.braking {
		target = a.cmd * a.cfg.MaxVel
	}
	if target == 0 {
		// Coasting or braking: drag toward rest. Braking uses the
		// drive acceleration, which is stronger than drag.
		decel := a.cfg.Drag
		if a.braking {
			decel = a.cfg.Accel
		}
		mag := math.Abs(a.vel) - decel*dt
		if mag < 0 {
			mag = 0
		}
		a.vel = math.Copysign(mag, a.vel)
		return
	}
	delta := target - a.vel
	max := a.cfg.Accel * dt
	if delta > max {
		delta = max
	} else if delta < -max {
		delta = -max
	}
	a.vel += delta
}

// Step advances the physics by dt and delivers the resulting encoder
// transitions.
func (a *Axis) Step(dt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sec := dt.Seconds()
	a.servo(sec)
	a.angle += a.vel * sec
	if !a.cfg.Wrap {
		if a.angle < a.cfg.MinStop {
			a.angle, a.vel = a.cfg.MinStop, 0
		} else if a.angle > a.cfg.MaxStop {
			a.angle, a.vel = a.cfg.MaxStop, 0
		}
	}
	a.emit()
	a.home()
}

// emit replays the quadrature transitions between the last delivered
// count and the current angle, one state at a time so the decoder sees
// every edge.
func (a *Axis) emit() {
	want := int64(math.Round((a.angle - a.base) / a.cfg.DegreesPerPulse))
	for a.emitted < want {
		a.phase = (a.phase + 1) % 4
		a.dec.Sample(quadrature[a.phase][0], quadrature[a.phase][1])
		a.emitted++
	}
	for a.emitted > want {
		a.phase = (a.phase + 3) % 4
		a.dec.Sample(quadrature[a.phase][0], quadrature[a.phase][1])
		a.emitted--
	}
}

// home asserts the index on the switch's rising edge and re-bases the
// count stream at the reference angle, the way the hardware counter
// restarts from zero there.
func (a *Axis) home() {
	on := a.nearHome()
	if on && !a.homeOn {
		a.dec.Index()
		a.base = a.angle
		a.emitted = 0
	}
	a.homeOn = on
}

func (a *Axis) nearHome() bool {
	d := a.angle - a.cfg.Home
	if a.cfg.Wrap {
		d = math.Mod(d+540, 360) - 180
	}
	return math.Abs(d) <= a.cfg.HomeWidth
}

// Mount is the pair of simulated axes stepped on a common clock.
type Mount struct {
	Az, El *Axis
	// StepSize is the discrete simulation step (default 5ms).
	StepSize time.Duration
}

// Step advances both axes by dt.
func (m *Mount) Step(dt time.Duration) {
	m.Az.Step(dt)
	m.El.Step(dt)
}

// Run steps the simulation in real time until ctx is canceled.
func (m *Mount) Run(ctx context.Context) error {
	step := m.StepSize
	if step <= 0 {
		step = 5 * time.Millisecond
	}
	t := time.NewTicker(step)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			m.Step(step)
		}
	})
	return g.Wait()
}
