// Package gps carries the receiver boundary: a Fix snapshot cell
// written by the feed at >=1 Hz and read by the tracking task. Sentence
// parsing belongs to the receiver collaborator, not to this package.
package gps

import (
	"sync/atomic"
	"time"
)

// Fix is one position/time solution. Valid is false until the receiver
// reports a usable fix and goes false again when the fix is lost.
type Fix struct {
	// Latitude and Longitude are in decimal degrees, Altitude in
	// meters above sea level.
	Latitude  float64
	Longitude float64
	Altitude  float64
	// Time is the receiver's UTC calendar time.
	Time  time.Time
	Valid bool
}

// Feed publishes the latest fix to any number of readers. Each Publish
// replaces the previous snapshot whole; readers never see a fix torn
// across two updates.
type Feed struct {
	v atomic.Value
}

func (f *Feed) Publish(fix Fix) {
	f.v.Store(fix)
}

// Latest returns the most recently published fix. Before the first
// publish it returns an invalid zero fix.
func (f *Feed) Latest() Fix {
	fix, ok := f.v.Load().(Fix)
	if !ok {
		return Fix{}
	}
	return fix
}
