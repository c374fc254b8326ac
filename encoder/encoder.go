// Package encoder decodes two-channel quadrature input into a signed
// absolute pulse count per axis. The count is owned by the sampler; the
// control loop fetches it without blocking the sampler, and the index
// sensor event is the only way it is ever reset.
package encoder

import "sync/atomic"

// IndexSink is the narrow interface handed to interrupt-level code.
// Nothing else may zero the count.
type IndexSink interface {
	Index()
}

// phase maps the channel pair (A<<1 | B) onto its position in the
// forward Gray sequence 00 -> 01 -> 11 -> 10 -> 00.
var phase = [4]int{0b00: 0, 0b01: 1, 0b11: 2, 0b10: 3}

// Decoder tracks one axis. Sample is called from a single sampler
// goroutine; Count, IndexFound and Index are safe from any context.
type Decoder struct {
	count      int64
	indexFound uint32

	// LegacyJumps enables the degraded decoding mode: a two-bit
	// transition, instead of being discarded, is counted as a 2-step
	// jump continuing in the direction of the last valid step. This
	// matches the legacy hardware decoder but can run the count away
	// from the true position on a noisy channel pair.
	LegacyJumps bool

	state   int
	primed  bool
	lastDir int64
}

// Sample feeds the decoder one reading of the two channels. Legal
// single-bit transitions move the count by exactly one pulse.
func (d *Decoder) Sample(a, b bool) {
	s := 0
	if a {
		s |= 0b10
	}
	if b {
		s |= 0b01
	}
	if !d.primed {
		d.primed = true
		d.state = s
		return
	}
	if s == d.state {
		return
	}
	delta := (phase[s] - phase[d.state] + 4) % 4
	d.state = s
	switch delta {
	case 1:
		d.lastDir = 1
		atomic.AddInt64(&d.count, 1)
	case 3:
		d.lastDir = -1
		atomic.AddInt64(&d.count, -1)
	case 2:
		// Both bits changed in one sample: the true direction is
		// unknowable. Drop it, or in legacy mode assume the motion
		// continued through the skipped quadrant.
		if d.LegacyJumps && d.lastDir != 0 {
			atomic.AddInt64(&d.count, 2*d.lastDir)
		}
	}
}

// Count returns the latest pulse count without blocking the sampler.
func (d *Decoder) Count() int64 {
	return atomic.LoadInt64(&d.count)
}

// Index services the index-sensor event: the count is zeroed and the
// home reference is latched. Callable from the hardware event path.
func (d *Decoder) Index() {
	atomic.StoreInt64(&d.count, 0)
	atomic.StoreUint32(&d.indexFound, 1)
}

// IndexFound reports whether the home reference has been captured since
// boot (or since the last ClearIndex).
func (d *Decoder) IndexFound() bool {
	return atomic.LoadUint32(&d.indexFound) == 1
}

// ClearIndex drops the home reference. Called by the homing sequence
// before seeking so a stale latch cannot satisfy the search.
func (d *Decoder) ClearIndex() {
	atomic.StoreUint32(&d.indexFound, 0)
}
