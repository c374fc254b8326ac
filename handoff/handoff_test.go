package handoff

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
)

func tleLine(lead byte, fill string) string {
	s := string(lead) + " " + fill
	if len(s) > 69 {
		return s[:69]
	}
	return s + strings.Repeat("0", 69-len(s))
}

func TestTLEValidate(t *testing.T) {
	good := TLE{Name: "ISS", Line1: tleLine('1', "25544U 98067A"), Line2: tleLine('2', "25544 51.6416")}
	for _, test := range []struct {
		name    string
		tle     TLE
		wantErr bool
	}{
		{"valid", good, false},
		{"empty name", TLE{Line1: good.Line1, Line2: good.Line2}, true},
		{"long name", TLE{Name: strings.Repeat("x", 25), Line1: good.Line1, Line2: good.Line2}, true},
		{"short line 1", TLE{Name: "ISS", Line1: good.Line1[:68], Line2: good.Line2}, true},
		{"short line 2", TLE{Name: "ISS", Line1: good.Line1, Line2: good.Line2[:10]}, true},
		{"wrong leading digit", TLE{Name: "ISS", Line1: good.Line2, Line2: good.Line1}, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := test.tle.Validate()
			if (err != nil) != test.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestMailboxRejectsInvalid(t *testing.T) {
	var m Mailbox
	if err := m.Publish(TLE{Name: "BAD", Line1: "tooshort", Line2: "tooshort"}); err == nil {
		t.Fatal("Publish accepted malformed TLE")
	}
	if m.Pending() {
		t.Error("malformed TLE reached shared state")
	}
}

func TestMailboxPendingRejectsRepublish(t *testing.T) {
	var m Mailbox
	tle := TLE{Name: "ISS", Line1: tleLine('1', "25544"), Line2: tleLine('2', "25544")}
	if err := m.Publish(tle); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	if err := m.Publish(tle); err != ErrPending {
		t.Errorf("second Publish = %v, want ErrPending", err)
	}
	if _, ok := m.Peek(); !ok {
		t.Fatal("Peek found nothing after Publish")
	}
	m.Clear()
	if err := m.Publish(tle); err != nil {
		t.Errorf("Publish after Clear: %v", err)
	}
}

// TestMailboxNoTornReads publishes records whose three fields encode the
// same sequence number and checks the consumer never sees fields from
// two different updates.
func TestMailboxNoTornReads(t *testing.T) {
	var m Mailbox
	const rounds = 1000
	done := make(chan error, 1)
	go func() {
		seen := 0
		for seen < rounds {
			tle, ok := m.Peek()
			if !ok {
				runtime.Gosched()
				continue
			}
			tag1 := tle.Line1[2:12]
			tag2 := tle.Line2[2:12]
			if tle.Name != tag1[:10] || tag1 != tag2 {
				done <- fmt.Errorf("torn read: name=%q line1=%q line2=%q", tle.Name, tag1, tag2)
				return
			}
			m.Clear()
			seen++
		}
		done <- nil
	}()
	for i := 0; i < rounds; {
		tag := fmt.Sprintf("%010d", i)
		tle := TLE{
			Name:  tag,
			Line1: tleLine('1', tag),
			Line2: tleLine('2', tag),
		}
		if err := m.Publish(tle); err == ErrPending {
			runtime.Gosched()
			continue
		} else if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		i++
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

// TestMailboxSingleProducerWins races publishers at an empty slot; the
// slot claim must admit exactly one, and the record the consumer sees
// must be that winner's, whole.
func TestMailboxSingleProducerWins(t *testing.T) {
	var m Mailbox
	const producers = 8
	var wg sync.WaitGroup
	errs := make([]error, producers)
	start := make(chan struct{})
	for i := 0; i < producers; i++ {
		i := i
		tag := fmt.Sprintf("%010d", i)
		tle := TLE{Name: tag, Line1: tleLine('1', tag), Line2: tleLine('2', tag)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = m.Publish(tle)
		}()
	}
	close(start)
	wg.Wait()
	won := -1
	for i, err := range errs {
		switch err {
		case nil:
			if won >= 0 {
				t.Fatalf("producers %d and %d both claimed the slot", won, i)
			}
			won = i
		case ErrPending:
		default:
			t.Fatalf("Publish: %v", err)
		}
	}
	if won < 0 {
		t.Fatal("no producer claimed the empty slot")
	}
	tle, ok := m.Peek()
	if !ok {
		t.Fatal("nothing pending after a successful Publish")
	}
	tag := fmt.Sprintf("%010d", won)
	if tle.Name != tag || tle.Line1[2:12] != tag || tle.Line2[2:12] != tag {
		t.Errorf("record %q/%q/%q does not match winner %d", tle.Name, tle.Line1[2:12], tle.Line2[2:12], won)
	}
}

func TestFloat64Cell(t *testing.T) {
	var c Float64
	if got := c.Load(); got != 0 {
		t.Errorf("zero value Load() = %v, want 0", got)
	}
	c.Store(359.9)
	if got := c.Load(); got != 359.9 {
		t.Errorf("Load() = %v, want 359.9", got)
	}
}
