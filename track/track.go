// Package track turns orbital element sets into mount pointing
// targets. The engine consumes element sets from the handoff mailbox,
// propagates the orbit against the latest position fix, and publishes
// rate-extrapolated azimuth and elevation targets for the control
// loop.
package track

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/satmount/tracker/control"
	"github.com/satmount/tracker/gps"
	"github.com/satmount/tracker/handoff"
)

// looker is the propagation surface the engine needs. Tests substitute
// a scripted implementation.
type looker interface {
	Name() string
	Look(fix gps.Fix, t time.Time) (az, el float64, err error)
}

var newEphemeris = func(tle handoff.TLE) (looker, error) {
	return NewEphemeris(tle)
}

type sample struct {
	az, el float64
	t      time.Time
	ok     bool
}

// Engine computes pointing targets at a fixed rate. Exported fields
// are set before Run and not touched afterwards.
type Engine struct {
	Mailbox  *handoff.Mailbox
	GPS      *gps.Feed
	Targets  *control.Targets
	Tracking *handoff.Bool

	// MaxRate clamps the estimated angular rate in degrees per second
	// (default 10). Lead is how far ahead the published target leads
	// the propagated position (default 2s). Period is the engine tick
	// (default 100ms).
	MaxRate float64
	Lead    time.Duration
	Period  time.Duration

	mu   sync.Mutex
	eph  looker
	last sample
}

// Satellite returns the name of the element set being tracked, or ""
// if none is loaded.
func (e *Engine) Satellite() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eph == nil {
		return ""
	}
	return e.eph.Name()
}

// Run steps the engine at the configured period until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	period := e.Period
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.Step()
		}
	}
}

// Step runs one engine cycle. All timing comes from the GPS calendar
// time carried by the fix; the host clock never enters the
// propagation.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	fix := e.GPS.Latest()
	if tle, ok := e.Mailbox.Peek(); ok {
		// A new element set is only consumed once a position fix
		// exists; until then it stays queued in the mailbox.
		if fix.Valid {
			e.consume(tle)
		}
	}
	if !e.Tracking.Load() || e.eph == nil {
		return
	}
	if !fix.Valid {
		log.Print("position fix lost, tracking stopped")
		e.Tracking.Store(false)
		e.last.ok = false
		return
	}
	if y := fix.Time.Year(); y < 2020 || y > 2100 {
		log.Printf("implausible fix year %d, holding targets", y)
		return
	}
	if e.last.ok && !fix.Time.After(e.last.t) {
		// Same fix as the previous cycle; nothing new to propagate,
		// the extrapolated target stands.
		return
	}

	az, el, err := e.eph.Look(fix, fix.Time)
	if err != nil {
		log.Printf("propagation of %s failed: %v, tracking stopped", e.eph.Name(), err)
		e.Tracking.Store(false)
		e.last.ok = false
		return
	}

	var rateAz, rateEl float64
	if e.last.ok {
		if dt := fix.Time.Sub(e.last.t).Seconds(); dt > 0 {
			rateAz = clampRate(control.ShortestPathError(az, e.last.az)/dt, e.maxRate())
			rateEl = clampRate((el-e.last.el)/dt, e.maxRate())
		}
	}
	// The rate estimate always comes from raw samples, never from a
	// previously extrapolated target.
	e.last = sample{az: az, el: el, t: fix.Time, ok: true}

	lead := e.lead().Seconds()
	cmdAz := control.Wrap360(az + rateAz*lead)
	cmdEl := el + rateEl*lead
	if el < 0 || cmdEl < 0 {
		// Below the horizon the mount stows at the horizon and keeps
		// azimuth pointed at the pass.
		cmdEl = 0
	}
	e.Targets.Set(cmdAz, cmdEl)
}

// consume swaps in a freshly published element set. The mailbox slot
// is released only after the engine owns the new elements.
func (e *Engine) consume(tle handoff.TLE) {
	eph, err := newEphemeris(tle)
	if err != nil {
		log.Printf("rejecting element set %q: %v", tle.Name, err)
		e.Mailbox.Clear()
		return
	}
	e.eph = eph
	e.last.ok = false
	e.Tracking.Store(true)
	e.Mailbox.Clear()
	log.Printf("tracking %s", eph.Name())
}

func (e *Engine) maxRate() float64 {
	if e.MaxRate <= 0 {
		return 10
	}
	return e.MaxRate
}

func (e *Engine) lead() time.Duration {
	if e.Lead <= 0 {
		return 2 * time.Second
	}
	return e.Lead
}

func clampRate(r, max float64) float64 {
	if r > max {
		return max
	}
	if r < -max {
		return -max
	}
	return r
}
