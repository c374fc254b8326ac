package control

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satmount/tracker/handoff"
	"github.com/satmount/tracker/motor"
)

type fakeEnc struct {
	count int64
	homed uint32
}

func (f *fakeEnc) Count() int64     { return atomic.LoadInt64(&f.count) }
func (f *fakeEnc) IndexFound() bool { return atomic.LoadUint32(&f.homed) == 1 }
func (f *fakeEnc) ClearIndex()      { atomic.StoreUint32(&f.homed, 0) }

func (f *fakeEnc) set(count int64) { atomic.StoreInt64(&f.count, count) }
func (f *fakeEnc) home()           { atomic.StoreUint32(&f.homed, 1) }

type fakeDrv struct {
	speeds []int
	stops  int
}

func (f *fakeDrv) SetSpeed(speed int) { f.speeds = append(f.speeds, speed) }
func (f *fakeDrv) Stop()              { f.stops++; f.speeds = append(f.speeds, 0) }

func (f *fakeDrv) last() int {
	if len(f.speeds) == 0 {
		return 0
	}
	return f.speeds[len(f.speeds)-1]
}

func TestShortestPathError(t *testing.T) {
	for _, test := range []struct {
		current, target, want float64
	}{
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{90, 91, 1},
		{91, 90, -1},
		{359, 1, 2},
		{1, 359, -2},
		{180, 0, -180},
	} {
		got := ShortestPathError(test.target, test.current)
		if got != test.want {
			t.Errorf("ShortestPathError(%v, %v) = %v, want %v", test.target, test.current, got, test.want)
		}
		if math.Abs(got) > 180 {
			t.Errorf("ShortestPathError(%v, %v) = %v, magnitude > 180", test.target, test.current, got)
		}
	}
}

func TestWrap360(t *testing.T) {
	for _, test := range []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {361, 1}, {-1, 359}, {-721, 359}, {719, 359},
	} {
		if got := Wrap360(test.in); got != test.want {
			t.Errorf("Wrap360(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestWrap360HugeMagnitude(t *testing.T) {
	// Values where x-360 == x in float64 must still normalize in
	// constant time rather than spinning the control tick.
	for _, in := range []float64{1e300, -1e300, math.MaxFloat64, -math.MaxFloat64} {
		if got := Wrap360(in); got < 0 || got >= 360 {
			t.Errorf("Wrap360(%v) = %v outside [0, 360)", in, got)
		}
	}
}

func TestPIDOutputClamped(t *testing.T) {
	g := Gains{Kp: 3, Ki: 0.15, Kd: 0.8, MaxIntegral: 50}
	var p pidState
	if out := p.update(1000, g, 0.01); out != motor.MaxCommand {
		t.Errorf("update(1000) = %v, want clamp at %d", out, motor.MaxCommand)
	}
	p = pidState{}
	if out := p.update(-1000, g, 0.01); out != -motor.MaxCommand {
		t.Errorf("update(-1000) = %v, want clamp at %d", out, -motor.MaxCommand)
	}
}

func TestPIDIntegralClamped(t *testing.T) {
	g := Gains{Kp: 0, Ki: 1, Kd: 0, MaxIntegral: 50}
	var p pidState
	for i := 0; i < 1000; i++ {
		p.update(100, g, 0.1)
	}
	if p.integral != 50 {
		t.Errorf("integral = %v, want clamp at 50", p.integral)
	}
}

func testConfig() Config {
	gains := Gains{Kp: 3, Ki: 0.15, Kd: 0.8, MaxIntegral: 50}
	return Config{
		Azimuth: AxisConfig{
			Gains:           gains,
			DegreesPerPulse: 1,
			Tolerance:       0.3,
			Wrap:            true,
		},
		Elevation: AxisConfig{
			Gains:           gains,
			Limits:          Limits{Min: 0, Max: 90, Margin: 5, Enforce: true},
			DegreesPerPulse: 1,
			Tolerance:       0.3,
		},
		Period: 10 * time.Millisecond,
	}
}

type rig struct {
	azEnc, elEnc *fakeEnc
	azDrv, elDrv *fakeDrv
	targets      *Targets
	tracking     *handoff.Bool
	latch        *motor.Latch
	ctrl         *Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		azEnc: &fakeEnc{}, elEnc: &fakeEnc{},
		azDrv: &fakeDrv{}, elDrv: &fakeDrv{},
		targets:  &Targets{},
		tracking: &handoff.Bool{},
	}
	r.latch = motor.NewLatch(func() { r.tracking.Store(false) }, r.azDrv, r.elDrv)
	r.ctrl = New(testConfig(), r.azEnc, r.elEnc,
		motor.Gate(r.azDrv, r.latch), motor.Gate(r.elDrv, r.latch),
		r.targets, r.tracking, r.latch)
	return r
}

func (r *rig) homeBoth() {
	r.azEnc.home()
	r.elEnc.home()
}

func TestUnhomedAxisIsNotDriven(t *testing.T) {
	r := newRig(t)
	r.targets.Set(90, 45)
	r.ctrl.Tick()
	if got := r.azDrv.last(); got != 0 {
		t.Errorf("azimuth driven while unhomed: %d", got)
	}
	if got := r.elDrv.last(); got != 0 {
		t.Errorf("elevation driven while unhomed: %d", got)
	}
}

func TestTickDrivesTowardTarget(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.azEnc.set(350)
	r.elEnc.set(10)
	r.targets.Set(10, 45) // shortest az path is forward through 0
	r.ctrl.Tick()
	if got := r.azDrv.last(); got <= 0 {
		t.Errorf("azimuth command = %d, want > 0 (forward through wrap)", got)
	}
	if got := r.elDrv.last(); got <= 0 {
		t.Errorf("elevation command = %d, want > 0", got)
	}
}

func TestHugeErrorCommandStaysInRange(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.targets.Set(0, 90)
	r.elEnc.set(0)
	r.ctrl.Tick()
	for _, s := range append(r.azDrv.speeds, r.elDrv.speeds...) {
		if s > motor.MaxCommand || s < -motor.MaxCommand {
			t.Errorf("command %d outside [-255, 255]", s)
		}
	}
}

func TestDeadbandIdempotence(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.azEnc.set(100)
	r.elEnc.set(45)
	r.targets.Set(100.1, 45.1) // inside the 0.3 degree tolerance
	r.ctrl.Tick()
	r.ctrl.Tick()
	for _, s := range append(r.azDrv.speeds, r.elDrv.speeds...) {
		if s != 0 {
			t.Errorf("nonzero command %d while parked in tolerance", s)
		}
	}
	if r.ctrl.az.pid.integral != 0 || r.ctrl.el.pid.integral != 0 {
		t.Errorf("integral grew while parked: az=%v el=%v",
			r.ctrl.az.pid.integral, r.ctrl.el.pid.integral)
	}
}

func TestElevationTargetClampedAtConsumption(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.elEnc.set(90)
	r.azEnc.set(0)
	r.targets.Set(0, 200) // clamped to 90: already there, no command
	r.ctrl.Tick()
	if got := r.elDrv.last(); got != 0 {
		t.Errorf("elevation command = %d, want 0 (target clamps to 90)", got)
	}
}

func TestOutOfRangeFaultStopsEverything(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.tracking.Store(true)
	r.elEnc.set(100) // beyond 90 + 5 margin
	r.targets.Set(0, 45)
	r.ctrl.Tick()
	if r.elDrv.last() != 0 || r.azDrv.last() != 0 {
		t.Error("motors not stopped on out-of-range fault")
	}
	if r.tracking.Load() {
		t.Error("tracking still active after out-of-range fault")
	}
	if r.targets.Valid.Load() {
		t.Error("target still valid after out-of-range fault")
	}
	if !r.ctrl.Fault() {
		t.Error("fault not latched")
	}
}

func TestEmergencyStopWinsFromAnyState(t *testing.T) {
	r := newRig(t)
	r.homeBoth()
	r.tracking.Store(true)
	r.azEnc.set(0)
	r.elEnc.set(0)
	r.targets.Set(180, 45)
	r.ctrl.Tick() // moving
	if r.azDrv.last() == 0 {
		t.Fatal("expected motion before the stop")
	}
	r.latch.Trip()
	if r.tracking.Load() {
		t.Error("tracking still active after emergency stop")
	}
	azBefore := len(r.azDrv.speeds)
	r.ctrl.Tick()
	r.ctrl.Tick()
	for _, s := range r.azDrv.speeds[azBefore:] {
		if s != 0 {
			t.Errorf("command %d issued while latched", s)
		}
	}
	// A normal command path cannot re-energize the motor until reset.
	r.targets.Set(180, 45)
	r.ctrl.Tick()
	if got := r.azDrv.last(); got != 0 {
		t.Errorf("motor re-energized while latched: %d", got)
	}
	r.latch.Reset()
	r.ctrl.Tick()
	if got := r.azDrv.last(); got == 0 {
		t.Error("no motion after explicit reset")
	}
}

func TestAzimuthOffsetAppliedToMeasurement(t *testing.T) {
	cfg := testConfig()
	cfg.Azimuth.Offset = 10
	azEnc, elEnc := &fakeEnc{}, &fakeEnc{}
	azDrv, elDrv := &fakeDrv{}, &fakeDrv{}
	targets := &Targets{}
	tracking := &handoff.Bool{}
	latch := motor.NewLatch(nil, azDrv, elDrv)
	c := New(cfg, azEnc, elEnc, azDrv, elDrv, targets, tracking, latch)
	azEnc.set(355)
	c.Tick()
	if got := c.CurrentAzimuth(); got != 5 {
		t.Errorf("CurrentAzimuth() = %v, want 5 (355 + 10 offset, wrapped)", got)
	}
}
