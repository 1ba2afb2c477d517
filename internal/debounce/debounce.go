// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package debounce coalesces rapid repeated triggers into a single delayed
// invocation, with an optional hard upper bound on how long a burst may defer
// delivery.
package debounce

import (
	"sync"
	"time"
)

// Default debounce timings.
const (
	// DefaultWait is the trailing quiet period before the function fires.
	DefaultWait = 100 * time.Millisecond

	// DefaultMaxWait is the maximum time a sustained burst may delay the
	// function before it fires anyway.
	DefaultMaxWait = 500 * time.Millisecond
)

// Config configures a Debouncer.
type Config struct {
	// Wait is the trailing delay after the last trigger.
	// Defaults to DefaultWait if zero or negative.
	Wait time.Duration

	// MaxWait bounds the total deferral during a sustained burst.
	// Zero disables the bound. Negative values are treated as zero.
	MaxWait time.Duration

	// Leading fires the function immediately on the first trigger of a
	// burst, in addition to the trailing fire.
	Leading bool
}

// Debouncer invokes a function after triggers go quiet for Wait, firing at
// most MaxWait after the first trigger of a burst. It is safe for concurrent
// use. Cancel and Flush resolve any pending invocation synchronously.
//
// The debounced function runs on a timer goroutine (or the caller's goroutine
// for Flush and leading fires); it must not call back into the Debouncer's
// Close from within itself.
type Debouncer struct {
	mu sync.Mutex

	fn      func()
	wait    time.Duration
	maxWait time.Duration
	leading bool

	timer    *time.Timer // trailing timer, reset on every trigger
	maxTimer *time.Timer // armed once per burst when maxWait > 0
	pending  bool
	closed   bool
}

// New creates a Debouncer around fn with the given configuration.
func New(fn func(), cfg Config) *Debouncer {
	wait := cfg.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	maxWait := cfg.MaxWait
	if maxWait < 0 {
		maxWait = 0
	}

	return &Debouncer{
		fn:      fn,
		wait:    wait,
		maxWait: maxWait,
		leading: cfg.Leading,
	}
}

// Trigger requests an invocation. Repeated triggers inside the wait window
// collapse into one trailing fire.
func (d *Debouncer) Trigger() {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return
	}

	startOfBurst := !d.pending
	d.pending = true

	if d.timer == nil {
		d.timer = time.AfterFunc(d.wait, d.fire)
	} else {
		d.timer.Reset(d.wait)
	}

	if startOfBurst && d.maxWait > 0 {
		d.maxTimer = time.AfterFunc(d.maxWait, d.fire)
	}

	fireLeading := startOfBurst && d.leading
	d.mu.Unlock()

	if fireLeading {
		d.fn()
	}
}

// Cancel discards any pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
}

// Flush invokes the function immediately if an invocation is pending.
// Returns true if the function was invoked.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	d.disarmLocked()
	d.mu.Unlock()

	d.fn()
	return true
}

// Close cancels any pending invocation and rejects further triggers.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
	d.closed = true
}

// Pending reports whether an invocation is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// fire is the shared timer callback for the trailing and max-wait timers.
// Whichever expires first wins; the loser finds pending false and returns.
func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.disarmLocked()
	d.mu.Unlock()

	d.fn()
}

func (d *Debouncer) disarmLocked() {
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.maxTimer != nil {
		d.maxTimer.Stop()
		d.maxTimer = nil
	}
}
