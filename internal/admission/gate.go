// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package admission guards how often a context may attempt an auth check.
// The gate layers a minimum interval and a rolling-window cap in front of the
// circuit breaker, so a flapping UI cannot hammer the backend even while the
// breaker is closed.
package admission

import (
	"sync"
	"time"

	"github.com/authpulse/authpulse/internal/authstate"
)

// Default admission limits.
const (
	// DefaultMinInterval is the minimum spacing between two checks.
	DefaultMinInterval = 5 * time.Second

	// DefaultWindow is the rolling window for the query cap.
	DefaultWindow = 60 * time.Second

	// DefaultWindowLimit is the maximum number of checks per window.
	DefaultWindowLimit = 10
)

// Denial reasons recorded in metrics.
const (
	ReasonMinInterval = "min_interval"
	ReasonWindowCap   = "window_cap"
	ReasonBreakerOpen = "breaker_open"
)

// Config configures a Gate. Zero values use the defaults above.
type Config struct {
	MinInterval time.Duration
	Window      time.Duration
	WindowLimit int
}

// Gate decides whether an auth check may proceed right now. Callers must
// call RecordQuery immediately after CanProceed returns true and before
// awaiting the check, so a burst of near-simultaneous callers cannot all
// slip through on stale history.
//
// Every decision is evaluated fresh against the clock; there is no
// cancellation concept. Safe for concurrent use.
type Gate struct {
	mu sync.Mutex

	cfg     Config
	breaker *authstate.Breaker

	lastQuery   time.Time
	windowStart time.Time
	windowCount int

	now func() time.Time
}

// NewGate creates a gate delegating breaker decisions to breaker.
// A nil breaker disables the breaker layer (rate limits still apply).
func NewGate(cfg Config, breaker *authstate.Breaker) *Gate {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = DefaultWindowLimit
	}

	return &Gate{
		cfg:     cfg,
		breaker: breaker,
		now:     time.Now,
	}
}

// CanProceed reports whether an auth check may be attempted now.
//
// The very first call — before any query has been recorded — is admitted
// unconditionally, even over an open breaker: a context that has never
// checked must be allowed to find out where it stands. After that the
// ordering is min-interval, window cap, then breaker.
func (g *Gate) CanProceed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastQuery.IsZero() {
		recordAdmission(true, "")
		return true
	}

	now := g.now()

	if now.Sub(g.lastQuery) < g.cfg.MinInterval {
		recordAdmission(false, ReasonMinInterval)
		return false
	}

	if now.Sub(g.windowStart) <= g.cfg.Window && g.windowCount >= g.cfg.WindowLimit {
		recordAdmission(false, ReasonWindowCap)
		return false
	}

	if g.breaker != nil && !g.breaker.Allow() {
		recordAdmission(false, ReasonBreakerOpen)
		return false
	}

	recordAdmission(true, "")
	return true
}

// RecordQuery charges one check against the rate-limit history. The window
// counter resets exactly when the window has fully elapsed.
func (g *Gate) RecordQuery() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.lastQuery = now

	if now.Sub(g.windowStart) > g.cfg.Window {
		g.windowStart = now
		g.windowCount = 0
	}
	g.windowCount++
}

// ResetHistory clears the rate-limit history, re-arming the first-query
// bypass. Called when a sibling context broadcasts a successful login: the
// sibling just proved the backend reachable, so local throttling history is
// stale. Breaker state is not touched here.
func (g *Gate) ResetHistory() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastQuery = time.Time{}
	g.windowStart = time.Time{}
	g.windowCount = 0
}

// Tracker is a diagnostic snapshot of the rate-limit history.
type Tracker struct {
	LastQuery   time.Time
	WindowStart time.Time
	WindowCount int
}

// Snapshot returns the current rate-limit history.
func (g *Gate) Snapshot() Tracker {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Tracker{
		LastQuery:   g.lastQuery,
		WindowStart: g.windowStart,
		WindowCount: g.windowCount,
	}
}
