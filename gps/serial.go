package gps

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tarm/serial"
)

// ParseFunc converts one receiver output line into a fix. It returns
// false for lines that carry no position/time solution. The concrete
// sentence grammar (NMEA or otherwise) is the receiver collaborator's
// business.
type ParseFunc func(line string) (Fix, bool)

// Receiver reads fixes from a serial GPS and publishes them to a Feed.
type Receiver struct {
	feed  *Feed
	parse ParseFunc
	baud  int
}

// NewReceiver wires a serial receiver to feed. The returned Receiver
// does nothing until Watch is started.
func NewReceiver(feed *Feed, baud int, parse ParseFunc) *Receiver {
	return &Receiver{feed: feed, parse: parse, baud: baud}
}

// Watch opens the port and republishes fixes until ctx is canceled,
// reconnecting with a short backoff whenever the port drops. If no
// line yields a fix for staleAfter, an invalid fix is published so
// consumers stop trusting the stale solution.
func (r *Receiver) Watch(ctx context.Context, port string, staleAfter time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		c := &serial.Config{Name: port, Baud: r.baud, ReadTimeout: staleAfter}
		s, err := serial.OpenPort(c)
		if err != nil {
			log.Printf("opening %q: %v", port, err)
			continue
		}
		log.Printf("opened %q", port)
		if err := r.watch(ctx, s); err != nil {
			log.Printf("reading %q: %v", port, err)
		}
		r.feed.Publish(Fix{})
	}
}

func (r *Receiver) watch(ctx context.Context, s *serial.Port) error {
	defer s.Close()
	scanner := bufio.NewScanner(s)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fix, ok := r.parse(scanner.Text())
		if !ok {
			continue
		}
		r.feed.Publish(fix)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}
