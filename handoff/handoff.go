// Package handoff holds the lock-free cells and the single-slot mailbox
// used to pass state between the tracking and control tasks. Each cell
// carries exactly one scalar with a latest-published-wins contract; the
// mailbox carries a whole TLE record behind a pending flag so the
// consumer never sees a half-written update.
package handoff

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Float64 is a scalar cell written by one task and read by any other.
// Readers may observe a value up to one publish cycle stale.
type Float64 struct {
	bits uint64
}

func (f *Float64) Store(v float64) {
	atomic.StoreUint64(&f.bits, math.Float64bits(v))
}

func (f *Float64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&f.bits))
}

// Bool is a flag cell. Unlike Mailbox it carries no payload, so
// multiple writers are tolerated (last store wins).
type Bool struct {
	v uint32
}

func (b *Bool) Store(v bool) {
	var u uint32
	if v {
		u = 1
	}
	atomic.StoreUint32(&b.v, u)
}

func (b *Bool) Load() bool {
	return atomic.LoadUint32(&b.v) == 1
}

// TLE is the ephemeris handshake payload: a satellite name plus the two
// element-set lines, copied wholesale on every update.
type TLE struct {
	Name  string
	Line1 string
	Line2 string
}

const (
	tleLineLen = 69
	maxNameLen = 24
)

// Validate rejects malformed element sets before they can reach shared
// state.
func (t TLE) Validate() error {
	if t.Name == "" {
		return errors.New("satellite name is empty")
	}
	if len(t.Name) > maxNameLen {
		return fmt.Errorf("satellite name longer than %d characters", maxNameLen)
	}
	if len(t.Line1) != tleLineLen {
		return fmt.Errorf("TLE line 1 must be exactly %d characters, got %d", tleLineLen, len(t.Line1))
	}
	if len(t.Line2) != tleLineLen {
		return fmt.Errorf("TLE line 2 must be exactly %d characters, got %d", tleLineLen, len(t.Line2))
	}
	if t.Line1[0] != '1' || t.Line2[0] != '2' {
		return errors.New("TLE lines must start with '1' and '2'")
	}
	return nil
}

// ErrPending is returned by Publish while a previous update has not yet
// been consumed.
var ErrPending = errors.New("previous TLE update still pending")

// Mailbox passes one TLE at a time to the tracking task without a
// lock. A producer claims the slot with a compare-and-swap, writes the
// payload in full, then raises the pending flag; the consumer reads
// the payload only after observing the flag, and clears the flag only
// once it is done with the record.
//
// Any number of producers may race on Publish (HTTP handlers,
// websocket readers, the console); the claim admits exactly one.
// Single consumer. The payload is never written while the flag is up
// and never read while it is down, so neither side can observe a torn
// record.
type Mailbox struct {
	payload TLE
	// pending: 0 empty, claimed while a producer writes, then raised.
	pending uint32
}

const (
	slotEmpty uint32 = iota
	slotRaised
	slotClaimed
)

// Publish validates the record and makes it available to the consumer.
func (m *Mailbox) Publish(t TLE) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(&m.pending, slotEmpty, slotClaimed) {
		return ErrPending
	}
	m.payload = t
	atomic.StoreUint32(&m.pending, slotRaised)
	return nil
}

// Peek returns the pending record without consuming it. The consumer
// must call Clear once it has finished initializing from the record.
func (m *Mailbox) Peek() (TLE, bool) {
	if atomic.LoadUint32(&m.pending) != slotRaised {
		return TLE{}, false
	}
	return m.payload, true
}

// Clear releases the mailbox back to the producers.
func (m *Mailbox) Clear() {
	atomic.StoreUint32(&m.pending, slotEmpty)
}

// Pending reports whether an unconsumed update is waiting.
func (m *Mailbox) Pending() bool {
	return atomic.LoadUint32(&m.pending) != slotEmpty
}
