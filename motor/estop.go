package motor

import "sync/atomic"

// Latch is the emergency-stop interlock. It is sticky: once tripped it
// stays active until Reset is called explicitly, regardless of any
// other state change. Trip is safe to call from the hardware event
// path; it only forces outputs to their safe state and runs the
// supplied flag-clearing hook, nothing else.
type Latch struct {
	active  uint32
	outputs []Driver
	onTrip  func()
}

// NewLatch registers the motor outputs the latch must force safe.
// onTrip, if non-nil, runs on every trip; it must be minimal (clear a
// tracking flag, nothing that can block).
func NewLatch(onTrip func(), outputs ...Driver) *Latch {
	return &Latch{outputs: outputs, onTrip: onTrip}
}

// Trip activates the latch and forces every registered output to its
// safe state.
func (l *Latch) Trip() {
	atomic.StoreUint32(&l.active, 1)
	for _, o := range l.outputs {
		o.Stop()
	}
	if l.onTrip != nil {
		l.onTrip()
	}
}

// Reset clears the latch. Never called automatically; the caller is
// responsible for confirming the physical interlock condition is gone.
func (l *Latch) Reset() {
	atomic.StoreUint32(&l.active, 0)
}

func (l *Latch) Active() bool {
	return atomic.LoadUint32(&l.active) == 1
}

// Gated wraps a Driver so every command checks the latch first. While
// the latch is active any command, whatever the controller asked for,
// is replaced with a stop.
type Gated struct {
	drv   Driver
	latch *Latch
}

func Gate(drv Driver, latch *Latch) *Gated {
	return &Gated{drv: drv, latch: latch}
}

func (g *Gated) SetSpeed(speed int) {
	if g.latch.Active() {
		g.drv.Stop()
		return
	}
	g.drv.SetSpeed(speed)
}

func (g *Gated) Stop() {
	g.drv.Stop()
}
