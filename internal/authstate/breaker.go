// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package authstate

import (
	"sync"
	"time"
)

// Circuit breaker configuration defaults.
const (
	// DefaultFailureThreshold is the number of consecutive breaker-triggering
	// failures that trips the breaker open.
	DefaultFailureThreshold = 3

	// DefaultBaseTimeout is the base backoff applied when the breaker opens.
	DefaultBaseTimeout = 30 * time.Second

	// DefaultMaxBackoffFactor caps the exponential backoff multiplier.
	DefaultMaxBackoffFactor = 5
)

// BreakerPhase is the circuit breaker's position in its state machine.
type BreakerPhase string

const (
	// BreakerClosed is normal operation; checks flow through.
	BreakerClosed BreakerPhase = "closed"

	// BreakerOpen short-circuits checks until the backoff elapses.
	BreakerOpen BreakerPhase = "open"

	// BreakerHalfOpen admits a single probe to test recovery.
	BreakerHalfOpen BreakerPhase = "half-open"
)

// BreakerStatus is a diagnostic snapshot of the breaker.
// NextRetry is meaningful only while Phase is BreakerOpen.
type BreakerStatus struct {
	FailureCount  int
	LastFailure   time.Time
	Phase         BreakerPhase
	NextRetry     time.Time
	ProbeInFlight bool
}

// BreakerConfig configures a Breaker. Zero values use the defaults above.
type BreakerConfig struct {
	FailureThreshold int
	BaseTimeout      time.Duration
	MaxBackoffFactor int
}

// Breaker is a lazy circuit breaker: backoff expiry is evaluated when
// admission is next requested, never on a background timer, so idle contexts
// incur no timer upkeep. Transitions follow
// closed -> open -> half-open -> {closed, open}.
//
// Half-open admits exactly one probe: Allow sets an in-flight flag
// synchronously and further callers are refused until RecordSuccess or
// RecordFailure clears it.
//
// Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	phase         BreakerPhase
	failureCount  int
	lastFailure   time.Time
	nextRetry     time.Time
	probeInFlight bool

	threshold   int
	baseTimeout time.Duration
	maxFactor   int

	now func() time.Time
}

// NewBreaker creates a closed breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	baseTimeout := cfg.BaseTimeout
	if baseTimeout <= 0 {
		baseTimeout = DefaultBaseTimeout
	}
	maxFactor := cfg.MaxBackoffFactor
	if maxFactor <= 0 {
		maxFactor = DefaultMaxBackoffFactor
	}

	return &Breaker{
		phase:       BreakerClosed,
		threshold:   threshold,
		baseTimeout: baseTimeout,
		maxFactor:   maxFactor,
		now:         time.Now,
	}
}

// Allow reports whether a check may be attempted right now.
// While open it flips to half-open once the backoff has elapsed, admitting
// the caller as the single recovery probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Before(b.nextRetry) {
			return false
		}
		b.phase = BreakerHalfOpen
		b.probeInFlight = true
		recordBreakerPhase(BreakerHalfOpen)
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count, from any
// prior phase.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.phase = BreakerClosed
	b.failureCount = 0
	b.probeInFlight = false
	recordBreakerPhase(BreakerClosed)
}

// RecordFailure counts a breaker-triggering failure. On reaching the
// threshold the breaker opens with a capped exponential backoff:
//
//	nextRetry = now + baseTimeout * min(2^(failures-threshold), maxFactor)
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failureCount++
	b.lastFailure = now
	b.probeInFlight = false

	if b.failureCount >= b.threshold {
		b.phase = BreakerOpen
		b.nextRetry = now.Add(b.backoff())
		recordBreakerPhase(BreakerOpen)
	}
}

// Status returns a diagnostic snapshot.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStatus{
		FailureCount:  b.failureCount,
		LastFailure:   b.lastFailure,
		Phase:         b.phase,
		NextRetry:     b.nextRetry,
		ProbeInFlight: b.probeInFlight,
	}
}

// backoff computes the current open-phase backoff. Callers hold b.mu.
func (b *Breaker) backoff() time.Duration {
	exp := b.failureCount - b.threshold
	factor := 1
	// Shift with overflow guard; the cap makes large exponents moot anyway.
	if exp > 0 && exp < 63 {
		factor = 1 << exp
	} else if exp >= 63 {
		factor = b.maxFactor
	}
	if factor > b.maxFactor {
		factor = b.maxFactor
	}
	return b.baseTimeout * time.Duration(factor)
}
