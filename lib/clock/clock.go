// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that the
// heartbeat loop, health checker, and retry logic can be tested
// deterministically. Production code injects Real(); tests inject
// NewFake() and advance it explicitly.
package clock

import "time"

// Clock abstracts the time operations Roost uses. Every production
// function that would call time.Now, time.Sleep, time.After, or
// time.NewTicker accepts a Clock instead (or is a method on a struct
// with a Clock field).
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop to
// release resources. C is buffered with capacity 1; if the consumer
// falls behind, ticks are dropped rather than queued, matching
// time.Ticker.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() {
	t.stop()
}
