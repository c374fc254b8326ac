package control

import (
	"context"
	"testing"
	"time"

	"github.com/satmount/tracker/handoff"
	"github.com/satmount/tracker/motor"
)

type homeRig struct {
	elEnc, azEnc *fakeEnc
	elDrv, azDrv *fakeDrv
	tracking     *handoff.Bool
	latch        *motor.Latch
	homer        *Homer
}

func newHomeRig(t *testing.T) *homeRig {
	t.Helper()
	r := &homeRig{
		elEnc: &fakeEnc{}, azEnc: &fakeEnc{},
		elDrv: &fakeDrv{}, azDrv: &fakeDrv{},
		tracking: &handoff.Bool{},
	}
	r.latch = motor.NewLatch(nil, r.elDrv, r.azDrv)
	r.homer = &Homer{
		Elevation: HomeAxis{Name: "elevation", Enc: r.elEnc, Drv: r.elDrv},
		Azimuth:   HomeAxis{Name: "azimuth", Enc: r.azEnc, Drv: r.azDrv},
		Estop:     r.latch,
		Tracking:  r.tracking,
		Speed:     -80,
		Timeout:   200 * time.Millisecond,
		Poll:      time.Millisecond,
	}
	return r
}

func TestHomingElevationFirstThenDone(t *testing.T) {
	r := newHomeRig(t)
	r.tracking.Store(true)
	var azSeekStart time.Time
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.elEnc.home()
		for r.homer.State() != SeekingAzimuthIndex {
			time.Sleep(time.Millisecond)
		}
		azSeekStart = time.Now()
		time.Sleep(10 * time.Millisecond)
		r.azEnc.home()
	}()
	if err := r.homer.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want success", err)
	}
	if got := r.homer.State(); got != HomingDone {
		t.Errorf("State() = %v, want DONE", got)
	}
	if azSeekStart.IsZero() {
		t.Error("azimuth seek never observed; elevation must home first")
	}
	// Homing disables tracking and never re-enables it itself.
	if r.tracking.Load() {
		t.Error("tracking re-enabled by homing")
	}
	// Each axis saw the seek command and then a stop.
	for name, drv := range map[string]*fakeDrv{"elevation": r.elDrv, "azimuth": r.azDrv} {
		if len(drv.speeds) < 2 || drv.speeds[0] != -80 || drv.last() != 0 {
			t.Errorf("%s commands = %v, want seek at -80 then stop", name, drv.speeds)
		}
	}
}

func TestHomingTimeoutAbortsWholeSequence(t *testing.T) {
	r := newHomeRig(t)
	r.homer.Timeout = 20 * time.Millisecond
	start := time.Now()
	err := r.homer.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded with no index pulse")
	}
	if got := r.homer.State(); got != HomingAborted {
		t.Errorf("State() = %v, want ABORTED", got)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("sequence ran %v; azimuth must not be attempted after elevation timeout", elapsed)
	}
	if len(r.azDrv.speeds) != 0 {
		t.Errorf("azimuth driven after elevation timeout: %v", r.azDrv.speeds)
	}
	if got := r.elDrv.last(); got != 0 {
		t.Errorf("elevation left powered after abort: %d", got)
	}
	if r.elEnc.IndexFound() {
		t.Error("elevation marked homed despite timeout")
	}
}

func TestHomingRefusedWhileEmergencyStopped(t *testing.T) {
	r := newHomeRig(t)
	r.latch.Trip()
	stops := r.elDrv.stops
	if err := r.homer.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with emergency stop latched")
	}
	if got := r.homer.State(); got != HomingIdle {
		t.Errorf("State() = %v, want IDLE (sequence never started)", got)
	}
	if r.elDrv.stops != stops {
		t.Error("motors touched by a refused homing attempt")
	}
}

func TestHomingAbortsOnEmergencyStop(t *testing.T) {
	r := newHomeRig(t)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.latch.Trip()
	}()
	err := r.homer.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded through an emergency stop")
	}
	if got := r.homer.State(); got != HomingAborted {
		t.Errorf("State() = %v, want ABORTED", got)
	}
	// The latch stops every output, so zeroes are expected; the seek
	// itself must never have reached the azimuth drive.
	for _, sp := range r.azDrv.speeds {
		if sp != 0 {
			t.Errorf("azimuth driven after aborted elevation seek: %v", r.azDrv.speeds)
			break
		}
	}
}

func TestHomingClearsControllerFault(t *testing.T) {
	cr := newRig(t)
	cr.homeBoth()
	cr.tracking.Store(true)
	cr.elEnc.set(100)
	cr.targets.Set(0, 45)
	cr.ctrl.Tick()
	if !cr.ctrl.Fault() {
		t.Fatal("expected an out-of-range fault")
	}
	hr := newHomeRig(t)
	hr.homer.Controller = cr.ctrl
	go func() {
		time.Sleep(5 * time.Millisecond)
		hr.elEnc.home()
		time.Sleep(5 * time.Millisecond)
		hr.azEnc.home()
	}()
	if err := hr.homer.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want success", err)
	}
	if cr.ctrl.Fault() {
		t.Error("out-of-range fault survives a completed homing sequence")
	}
}
