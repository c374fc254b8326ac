// Package control closes the position loop: it runs the fixed-rate PID
// controller that steers each mount axis to its target angle, and the
// homing sequence that gives the encoders their absolute reference.
package control

import (
	"context"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/satmount/tracker/handoff"
	"github.com/satmount/tracker/motor"
)

// PositionSource is the non-blocking read surface of one axis encoder.
type PositionSource interface {
	Count() int64
	IndexFound() bool
}

type Gains struct {
	Kp, Ki, Kd float64
	// MaxIntegral clamps the accumulated integral term.
	MaxIntegral float64
}

// Limits describes the physically reachable range of an axis. Margin
// widens the fault window beyond the commanded range so encoder
// quantization alone cannot trip it.
type Limits struct {
	Min, Max float64
	Margin   float64
	// Enforce enables the out-of-range fault for this axis. A
	// continuous azimuth axis runs unenforced.
	Enforce bool
}

type AxisConfig struct {
	Gains  Gains
	Limits Limits
	// DegreesPerPulse converts encoder counts to degrees:
	// 360 / (gearRatio * encoderPPR * 4).
	DegreesPerPulse float64
	// Tolerance is the deadband half-width in degrees. Inside it the
	// axis is parked: PID state is zeroed and no power is applied.
	Tolerance float64
	// Wrap marks a continuous 0-360 axis using shortest-path errors.
	Wrap bool
	// Offset is added to the measured angle, e.g. a compass-derived
	// true-north correction for the azimuth axis.
	Offset float64
}

// Targets is the shared target surface. The tracking engine or a
// manual override writes it; the controller reads it every tick and
// does not care who wrote it.
type Targets struct {
	Az, El handoff.Float64
	Valid  handoff.Bool
}

// Set publishes a target pair and marks it valid.
func (t *Targets) Set(az, el float64) {
	t.Az.Store(az)
	t.El.Store(el)
	t.Valid.Store(true)
}

type pidState struct {
	integral  float64
	lastError float64
}

func (p *pidState) update(e float64, g Gains, dt float64) float64 {
	p.integral += e * dt
	p.integral = clamp(p.integral, -g.MaxIntegral, g.MaxIntegral)
	d := (e - p.lastError) / dt
	p.lastError = e
	out := g.Kp*e + g.Ki*p.integral + g.Kd*d
	return clamp(out, -motor.MaxCommand, motor.MaxCommand)
}

type axisLoop struct {
	cfg AxisConfig
	enc PositionSource
	drv motor.Driver
	pid pidState
}

// position converts the current count to a calibrated angle.
func (a *axisLoop) position() float64 {
	deg := float64(a.enc.Count())*a.cfg.DegreesPerPulse + a.cfg.Offset
	if a.cfg.Wrap {
		deg = Wrap360(deg)
	}
	return deg
}

func (a *axisLoop) outOfRange(cur float64) bool {
	if !a.cfg.Limits.Enforce {
		return false
	}
	return cur < a.cfg.Limits.Min-a.cfg.Limits.Margin ||
		cur > a.cfg.Limits.Max+a.cfg.Limits.Margin
}

// rest zeroes the PID state without touching the motor output.
func (a *axisLoop) rest() {
	a.pid = pidState{}
}

// park zeroes the PID state and removes power.
func (a *axisLoop) park() {
	a.pid = pidState{}
	a.drv.SetSpeed(0)
}

func (a *axisLoop) step(target, cur, dt float64) {
	var e float64
	if a.cfg.Wrap {
		e = ShortestPathError(Wrap360(target), cur)
	} else {
		// Targets are clamped at the point of consumption, never
		// assumed pre-clamped.
		e = clamp(target, a.cfg.Limits.Min, a.cfg.Limits.Max) - cur
	}
	if math.Abs(e) <= a.cfg.Tolerance {
		a.park()
		return
	}
	a.drv.SetSpeed(int(a.pid.update(e, a.cfg.Gains, dt)))
}

type Config struct {
	Azimuth   AxisConfig
	Elevation AxisConfig
	// Period is the control tick interval (10ms reference).
	Period time.Duration
}

// Controller runs the per-tick position loop for both axes. Tick is
// called from a single task; the telemetry accessors are safe from any
// context.
type Controller struct {
	az, el  axisLoop
	targets *Targets
	// tracking is cleared (never set) by the controller on faults.
	tracking *handoff.Bool
	estop    *motor.Latch
	period   time.Duration
	dt       float64

	suspended uint32
	fault     handoff.Bool
	curAz     handoff.Float64
	curEl     handoff.Float64
}

func New(cfg Config, azEnc, elEnc PositionSource, azDrv, elDrv motor.Driver, targets *Targets, tracking *handoff.Bool, estop *motor.Latch) *Controller {
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Millisecond
	}
	return &Controller{
		az:       axisLoop{cfg: cfg.Azimuth, enc: azEnc, drv: azDrv},
		el:       axisLoop{cfg: cfg.Elevation, enc: elEnc, drv: elDrv},
		targets:  targets,
		tracking: tracking,
		estop:    estop,
		period:   cfg.Period,
		dt:       cfg.Period.Seconds(),
	}
}

// Tick runs one control cycle: encoder read, error computation, PID
// update, motor command, strictly in that order, using only this tick's
// state.
func (c *Controller) Tick() {
	curAz := c.az.position()
	curEl := c.el.position()
	c.curAz.Store(curAz)
	c.curEl.Store(curEl)

	if atomic.LoadUint32(&c.suspended) != 0 {
		// Homing (or another caller) owns the motors right now.
		c.az.rest()
		c.el.rest()
		return
	}
	if c.estop.Active() {
		// Outputs were already forced safe by the latch; keep the PID
		// state from winding up while stopped.
		c.az.rest()
		c.el.rest()
		return
	}
	if !c.az.enc.IndexFound() || !c.el.enc.IndexFound() || !c.targets.Valid.Load() {
		// Unhomed axes are never driven toward an arbitrary target.
		c.az.park()
		c.el.park()
		return
	}
	if c.az.outOfRange(curAz) || c.el.outOfRange(curEl) {
		log.Printf("position out of range (az=%.2f el=%.2f): stopping motors, canceling tracking", curAz, curEl)
		c.az.park()
		c.el.park()
		c.tracking.Store(false)
		c.targets.Valid.Store(false)
		c.fault.Store(true)
		return
	}
	c.az.step(c.targets.Az.Load(), curAz, c.dt)
	c.el.step(c.targets.El.Load(), curEl, c.dt)
}

// Run ticks the controller at the configured period until ctx is
// canceled, then stops both motors.
func (c *Controller) Run(ctx context.Context) error {
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.az.drv.Stop()
			c.el.drv.Stop()
			return ctx.Err()
		case <-t.C:
		}
		c.Tick()
	}
}

// Suspend pauses closed-loop output so another owner (the homing
// sequence) can drive the motors. Telemetry keeps updating.
func (c *Controller) Suspend() {
	atomic.StoreUint32(&c.suspended, 1)
}

// Resume returns motor ownership to the control loop.
func (c *Controller) Resume() {
	atomic.StoreUint32(&c.suspended, 0)
}

// Fault reports whether an out-of-range fault is latched. It clears
// when a homing sequence completes.
func (c *Controller) Fault() bool {
	return c.fault.Load()
}

func (c *Controller) clearFault() {
	c.fault.Store(false)
}

// CurrentAzimuth returns the last measured azimuth in degrees.
func (c *Controller) CurrentAzimuth() float64 {
	return c.curAz.Load()
}

// CurrentElevation returns the last measured elevation in degrees.
func (c *Controller) CurrentElevation() float64 {
	return c.curEl.Load()
}

// Homed reports whether both axes hold an index reference.
func (c *Controller) Homed() bool {
	return c.az.enc.IndexFound() && c.el.enc.IndexFound()
}

// RawCounts returns the raw encoder counts for telemetry.
func (c *Controller) RawCounts() (az, el int64) {
	return c.az.enc.Count(), c.el.enc.Count()
}
