package control

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/satmount/tracker/handoff"
	"github.com/satmount/tracker/motor"
)

type HomingState int32

const (
	HomingIdle HomingState = iota
	SeekingElevationIndex
	ElevationHomed
	SeekingAzimuthIndex
	AzimuthHomed
	HomingDone
	HomingAborted
)

func (s HomingState) String() string {
	switch s {
	case HomingIdle:
		return "IDLE"
	case SeekingElevationIndex:
		return "SEEK_EL"
	case ElevationHomed:
		return "EL_HOMED"
	case SeekingAzimuthIndex:
		return "SEEK_AZ"
	case AzimuthHomed:
		return "AZ_HOMED"
	case HomingDone:
		return "DONE"
	case HomingAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// HomeSensor is the slice of the encoder the homing sequence needs.
type HomeSensor interface {
	IndexFound() bool
	ClearIndex()
}

// HomeAxis pairs one axis's index sensor with its motor output.
type HomeAxis struct {
	Name string
	Enc  HomeSensor
	Drv  motor.Driver
}

// Homer drives each axis in turn onto its mechanical index sensor,
// elevation first, zeroing the encoder there. Tracking stays disabled
// for the whole sequence and remains disabled unless it reaches DONE.
type Homer struct {
	Elevation HomeAxis
	Azimuth   HomeAxis
	Estop     *motor.Latch
	Tracking  *handoff.Bool
	// Controller, if set, is suspended while the sequence owns the
	// motors and has its range fault cleared on success.
	Controller *Controller

	// Speed is the signed seek command (default -80: low-speed
	// reverse). Timeout bounds each axis's seek (default 30s); Poll is
	// the flag-check interval (default 10ms).
	Speed   int
	Timeout time.Duration
	Poll    time.Duration

	state int32
}

// State returns the current sequence state for telemetry.
func (h *Homer) State() HomingState {
	return HomingState(atomic.LoadInt32(&h.state))
}

func (h *Homer) setState(s HomingState) {
	atomic.StoreInt32(&h.state, int32(s))
}

// Run executes the homing sequence. On timeout or emergency stop the
// sequence halts without homing the remaining axis and returns the
// failure.
func (h *Homer) Run(ctx context.Context) error {
	if h.Speed == 0 {
		h.Speed = -80
	}
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.Poll <= 0 {
		h.Poll = 10 * time.Millisecond
	}
	if h.Estop != nil && h.Estop.Active() {
		return fmt.Errorf("homing refused: emergency stop active")
	}
	log.Print("homing axes")
	h.Tracking.Store(false)
	if h.Controller != nil {
		h.Controller.Suspend()
		defer h.Controller.Resume()
	}

	h.setState(SeekingElevationIndex)
	if err := h.seek(ctx, h.Elevation); err != nil {
		h.setState(HomingAborted)
		return err
	}
	h.setState(ElevationHomed)
	log.Printf("%s homed", h.Elevation.Name)

	h.setState(SeekingAzimuthIndex)
	if err := h.seek(ctx, h.Azimuth); err != nil {
		h.setState(HomingAborted)
		return err
	}
	h.setState(AzimuthHomed)
	log.Printf("%s homed", h.Azimuth.Name)

	h.setState(HomingDone)
	if h.Controller != nil {
		h.Controller.clearFault()
	}
	return nil
}

func (h *Homer) seek(ctx context.Context, ax HomeAxis) error {
	ax.Enc.ClearIndex()
	ax.Drv.SetSpeed(h.Speed)
	defer ax.Drv.SetSpeed(0)
	deadline := time.Now().Add(h.Timeout)
	for {
		if ax.Enc.IndexFound() {
			return nil
		}
		if h.Estop != nil && h.Estop.Active() {
			log.Printf("%s homing: emergency stop", ax.Name)
			return fmt.Errorf("%s homing: emergency stop", ax.Name)
		}
		if time.Now().After(deadline) {
			log.Printf("%s homing timed out after %v", ax.Name, h.Timeout)
			return fmt.Errorf("%s homing timed out after %v", ax.Name, h.Timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.Poll):
		}
	}
}
