// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time advances only when
// Advance is called. Goroutines blocked in Sleep or waiting on After
// or Ticker channels are released when the fake time passes their
// deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	// period is zero for one-shot waiters (Sleep, After) and the tick
	// interval for tickers.
	period  time.Duration
	stopped bool
}

// NewFake returns a Fake starting at a fixed, arbitrary epoch. Tests
// that care about the absolute value should use SetNow.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SetNow jumps the fake clock to t without firing waiters. Use Advance
// to fire timers.
func (f *Fake) SetNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Sleep blocks until the fake clock advances past d.
func (f *Fake) Sleep(d time.Duration) {
	<-f.After(d)
}

// After returns a channel that fires when the fake clock advances past d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker that fires each time Advance crosses a
// tick boundary. Ticks drop when the buffer is full, matching
// time.Ticker semantics.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive Ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1), period: d}
	f.waiters = append(f.waiters, w)
	return &Ticker{
		C: w.ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			w.stopped = true
		},
	}
}

// Advance moves the fake clock forward by d, firing every waiter whose
// deadline is reached. Ticker waiters are rescheduled for their next
// period.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		for !w.deadline.After(f.now) {
			select {
			case w.ch <- w.deadline:
			default:
			}
			if w.period == 0 {
				w.stopped = true
				break
			}
			w.deadline = w.deadline.Add(w.period)
		}
		if !w.stopped {
			remaining = append(remaining, w)
		}
	}
	f.waiters = append([]*waiter(nil), remaining...)
}
