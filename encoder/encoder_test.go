package encoder

import "testing"

// step applies the quadrature state for the given phase index.
func step(d *Decoder, p int) {
	states := [4][2]bool{{false, false}, {false, true}, {true, true}, {true, false}}
	d.Sample(states[p][0], states[p][1])
}

func TestForwardSequence(t *testing.T) {
	var d Decoder
	step(&d, 0)
	for i := 1; i <= 12; i++ {
		step(&d, i%4)
		if got := d.Count(); got != int64(i) {
			t.Fatalf("after %d forward transitions Count() = %d", i, got)
		}
	}
}

func TestReverseSequence(t *testing.T) {
	var d Decoder
	step(&d, 0)
	for i := 1; i <= 12; i++ {
		step(&d, (4-i%4)%4)
		if got := d.Count(); got != int64(-i) {
			t.Fatalf("after %d reverse transitions Count() = %d", i, got)
		}
	}
}

func TestRepeatedStateIsIgnored(t *testing.T) {
	var d Decoder
	step(&d, 0)
	step(&d, 1)
	step(&d, 1)
	step(&d, 1)
	if got := d.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestDoubleBitTransitionIgnoredByDefault(t *testing.T) {
	var d Decoder
	step(&d, 0)
	step(&d, 1) // +1
	step(&d, 3) // illegal: skips phase 2
	if got := d.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 (illegal transition dropped)", got)
	}
	// The decoder must stay in sync: continuing the sequence from the
	// new state keeps stepping by one.
	step(&d, 0)
	if got := d.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2 after resync", got)
	}
}

// TestLegacyJumpMode documents the degraded two-bit handling inherited
// from the legacy decoder: the skipped quadrant is counted as two steps
// in the direction of the previous movement. This is a plausible error
// source on a noisy channel pair; it is kept for compatibility, not
// because it is correct.
func TestLegacyJumpMode(t *testing.T) {
	d := Decoder{LegacyJumps: true}
	step(&d, 0)
	step(&d, 1) // +1, direction latched forward
	step(&d, 3) // double-bit: counted as +2
	if got := d.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	// Never desynchronizes by more than the documented jump.
	step(&d, 2) // -1
	if got := d.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestLegacyJumpWithoutDirectionIsDropped(t *testing.T) {
	d := Decoder{LegacyJumps: true}
	step(&d, 0)
	step(&d, 2) // double-bit before any valid step
	if got := d.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestIndexResetsCount(t *testing.T) {
	var d Decoder
	step(&d, 0)
	for i := 1; i <= 7; i++ {
		step(&d, i%4)
	}
	if d.IndexFound() {
		t.Fatal("IndexFound before any index event")
	}
	d.Index()
	if got := d.Count(); got != 0 {
		t.Errorf("Count() = %d after index, want 0", got)
	}
	if !d.IndexFound() {
		t.Error("IndexFound = false after index event")
	}
	d.ClearIndex()
	if d.IndexFound() {
		t.Error("IndexFound = true after ClearIndex")
	}
	if got := d.Count(); got != 0 {
		t.Errorf("ClearIndex must not touch the count, got %d", got)
	}
}
