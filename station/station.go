// Package station assembles the control stack: encoders, motor
// outputs, the emergency-stop latch, the position controller, the
// tracking engine, and the homing sequence, behind one operations
// surface the network frontends call into.
package station

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satmount/tracker/control"
	"github.com/satmount/tracker/encoder"
	"github.com/satmount/tracker/gps"
	"github.com/satmount/tracker/handoff"
	"github.com/satmount/tracker/internal/config"
	"github.com/satmount/tracker/motor"
	"github.com/satmount/tracker/track"
)

// Outputs are the two PWM backends the station drives, either GPIO
// hardware or the simulator.
type Outputs struct {
	Az, El motor.PWM
}

// Status is a snapshot of everything the frontends report.
type Status struct {
	Azimuth       float64
	Elevation     float64
	RawAzCount    int64
	RawElCount    int64
	TargetAzimuth float64
	TargetElev    float64
	TargetValid   bool
	Tracking      bool
	Satellite     string
	Homed         bool
	Homing        string
	EmergencyStop bool
	RangeFault    bool
	GPSValid      bool
	Latitude      float64
	Longitude     float64
	TLEPending    bool
}

// ErrHomingBusy is returned when a homing sequence is already running.
var ErrHomingBusy = errors.New("homing sequence already running")

// ErrBadTarget is returned for target angles that are not finite
// numbers.
var ErrBadTarget = errors.New("target angle is not a finite number")

// Station owns the shared state cells and the long-running tasks.
type Station struct {
	cfg *config.Config

	AzEnc, ElEnc *encoder.Decoder
	Latch        *motor.Latch
	Targets      control.Targets
	Tracking     handoff.Bool
	Mailbox      handoff.Mailbox
	GPS          gps.Feed

	Controller *control.Controller
	Engine     *track.Engine
	Homer      *control.Homer

	homing chan struct{} // 1-token semaphore
}

// New wires the stack onto the given decoders and outputs. The caller
// owns the backend that feeds the decoders, hardware or simulated.
func New(cfg *config.Config, azEnc, elEnc *encoder.Decoder, out Outputs) *Station {
	s := &Station{
		cfg:    cfg,
		AzEnc:  azEnc,
		ElEnc:  elEnc,
		homing: make(chan struct{}, 1),
	}
	s.homing <- struct{}{}

	policy := motor.Policy{
		MinPWM:    cfg.Motor.MinPWM,
		Brake:     cfg.Motor.Brake,
		UseEnable: true,
	}
	azAxis := motor.NewAxis(out.Az, policy)
	elAxis := motor.NewAxis(out.El, policy)
	s.Latch = motor.NewLatch(func() { s.Tracking.Store(false) }, azAxis, elAxis)
	azDrv := motor.Gate(azAxis, s.Latch)
	elDrv := motor.Gate(elAxis, s.Latch)

	s.Controller = control.New(control.Config{
		Azimuth:   axisConfig(cfg.Azimuth),
		Elevation: axisConfig(cfg.Elevation),
		Period:    cfg.ControlPeriod(),
	}, s.AzEnc, s.ElEnc, azDrv, elDrv, &s.Targets, &s.Tracking, s.Latch)

	s.Engine = &track.Engine{
		Mailbox:  &s.Mailbox,
		GPS:      &s.GPS,
		Targets:  &s.Targets,
		Tracking: &s.Tracking,
		MaxRate:  cfg.Rates.MaxRateDegSec,
		Lead:     cfg.Lead(),
		Period:   cfg.TrackPeriod(),
	}

	s.Homer = &control.Homer{
		Elevation:  control.HomeAxis{Name: "elevation", Enc: s.ElEnc, Drv: elDrv},
		Azimuth:    control.HomeAxis{Name: "azimuth", Enc: s.AzEnc, Drv: azDrv},
		Estop:      s.Latch,
		Tracking:   &s.Tracking,
		Controller: s.Controller,
		Speed:      cfg.Homing.Speed,
		Timeout:    cfg.HomingTimeout(),
	}
	return s
}

func axisConfig(a config.AxisConfig) control.AxisConfig {
	return control.AxisConfig{
		Gains: control.Gains{
			Kp:          a.PID.Kp,
			Ki:          a.PID.Ki,
			Kd:          a.PID.Kd,
			MaxIntegral: a.PID.MaxIntegral,
		},
		Limits: control.Limits{
			Min:     a.Mechanics.MinDeg,
			Max:     a.Mechanics.MaxDeg,
			Margin:  a.Mechanics.MarginDeg,
			Enforce: !a.Mechanics.Wrap,
		},
		DegreesPerPulse: a.Mechanics.DegreesPerPulse(),
		Tolerance:       a.PID.ToleranceDeg,
		Wrap:            a.Mechanics.Wrap,
		Offset:          a.Mechanics.OffsetDeg,
	}
}

// Run starts the control loop and the tracking engine and blocks until
// ctx is canceled.
func (s *Station) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Controller.Run(ctx) })
	g.Go(func() error { return s.Engine.Run(ctx) })
	return g.Wait()
}

// SetTLE queues a new element set for the tracking engine. It fails if
// the record is malformed or the previous update is still unconsumed.
func (s *Station) SetTLE(name, line1, line2 string) error {
	return s.Mailbox.Publish(handoff.TLE{Name: name, Line1: line1, Line2: line2})
}

// ManualTarget points the mount at a fixed azimuth and elevation,
// taking over from the tracking engine. Non-finite angles from the
// network or console never reach the control loop.
func (s *Station) ManualTarget(az, el float64) error {
	if math.IsNaN(az) || math.IsInf(az, 0) || math.IsNaN(el) || math.IsInf(el, 0) {
		return ErrBadTarget
	}
	s.Tracking.Store(false)
	s.Targets.Set(control.Wrap360(az), el)
	return nil
}

// StartHoming launches the homing sequence in the background. Only one
// sequence runs at a time.
func (s *Station) StartHoming(ctx context.Context) error {
	select {
	case <-s.homing:
	default:
		return ErrHomingBusy
	}
	go func() {
		defer func() { s.homing <- struct{}{} }()
		s.Homer.Run(ctx)
	}()
	return nil
}

// Home runs the homing sequence and waits for it.
func (s *Station) Home(ctx context.Context) error {
	select {
	case <-s.homing:
	default:
		return ErrHomingBusy
	}
	defer func() { s.homing <- struct{}{} }()
	return s.Homer.Run(ctx)
}

// Stop cancels tracking and removes the target; the control loop stops
// driving on its next tick.
func (s *Station) Stop() {
	s.Tracking.Store(false)
	s.Targets.Valid.Store(false)
}

// EmergencyStop latches the hardware stop.
func (s *Station) EmergencyStop() {
	s.Latch.Trip()
}

// ResetEmergencyStop releases the latch. Motion resumes only on a new
// target or element set.
func (s *Station) ResetEmergencyStop() {
	s.Latch.Reset()
}

// Status snapshots the station for telemetry. Field reads are each
// atomic; the snapshot as a whole is not.
func (s *Station) Status() Status {
	fix := s.GPS.Latest()
	rawAz, rawEl := s.Controller.RawCounts()
	return Status{
		Azimuth:       s.Controller.CurrentAzimuth(),
		Elevation:     s.Controller.CurrentElevation(),
		RawAzCount:    rawAz,
		RawElCount:    rawEl,
		TargetAzimuth: s.Targets.Az.Load(),
		TargetElev:    s.Targets.El.Load(),
		TargetValid:   s.Targets.Valid.Load(),
		Tracking:      s.Tracking.Load(),
		Satellite:     s.Engine.Satellite(),
		Homed:         s.Controller.Homed(),
		Homing:        s.Homer.State().String(),
		EmergencyStop: s.Latch.Active(),
		RangeFault:    s.Controller.Fault(),
		GPSValid:      fix.Valid,
		Latitude:      fix.Latitude,
		Longitude:     fix.Longitude,
		TLEPending:    s.Mailbox.Pending(),
	}
}

// WaitHomed polls until both axes hold an index reference or ctx
// expires. Frontends use it to sequence a home-then-track script.
func (s *Station) WaitHomed(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if s.Controller.Homed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
