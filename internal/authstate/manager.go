// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package authstate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/authpulse/authpulse/internal/debounce"
)

// Listener receives state snapshots. Listeners must not block; a panicking
// listener is isolated and never prevents delivery to the others.
type Listener func(State)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Breaker is the circuit breaker shared with the admission gate.
	// A new breaker with default configuration is created if nil.
	Breaker *Breaker

	// NotifyWait is the trailing debounce delay for subscriber notification.
	// Defaults to debounce.DefaultWait if zero.
	NotifyWait time.Duration

	// NotifyMaxWait bounds notification deferral during sustained bursts.
	// Defaults to debounce.DefaultMaxWait if zero.
	NotifyMaxWait time.Duration

	// Logger receives listener-fault warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Manager is the single authoritative holder of a context's authentication
// state. All mutations are serialized by an internal mutex; subscriber
// delivery is debounced so bursts of rapid writes collapse into one
// notification carrying the final state.
type Manager struct {
	mu sync.Mutex

	state     State
	breaker   *Breaker
	listeners map[int]Listener
	nextID    int

	notify *debounce.Debouncer
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager in the initial unauthenticated state.
// Call Close when the context shuts down to release the debounce timers.
func NewManager(cfg ManagerConfig) *Manager {
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wait := cfg.NotifyWait
	if wait <= 0 {
		wait = debounce.DefaultWait
	}
	maxWait := cfg.NotifyMaxWait
	if maxWait <= 0 {
		maxWait = debounce.DefaultMaxWait
	}

	m := &Manager{
		state:     State{Source: SourceInitial},
		breaker:   breaker,
		listeners: make(map[int]Listener),
		logger:    logger,
		now:       time.Now,
	}
	m.notify = debounce.New(m.deliver, debounce.Config{
		Wait:    wait,
		MaxWait: maxWait,
	})

	return m
}

// GetState returns a defensive copy of the current state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Breaker returns the circuit breaker so it can be shared with the
// admission gate.
func (m *Manager) Breaker() *Breaker {
	return m.breaker
}

// BreakerStatus returns a diagnostic snapshot of the circuit breaker.
func (m *Manager) BreakerStatus() BreakerStatus {
	return m.breaker.Status()
}

// Subscribe registers a listener, delivers the current snapshot to it
// immediately, and returns an unsubscribe function. Unsubscribing twice is
// harmless.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	snapshot := m.state.clone()
	m.mu.Unlock()

	m.invoke(fn, snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetLoading marks a check as in flight. A no-op when already loading, so
// concurrent admission winners do not generate redundant notifications.
func (m *Manager) SetLoading() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Loading {
		return
	}
	m.state.Loading = true
	m.scheduleNotifyLocked()
}

// RecordSuccess installs a verified identity, closes the circuit breaker,
// and schedules a debounced notification.
func (m *Manager) RecordSuccess(user Identity, source Source) {
	m.breaker.RecordSuccess()

	m.mu.Lock()
	defer m.mu.Unlock()

	u := user
	m.state.Authenticated = true
	m.state.User = &u
	m.state.Loading = false
	m.state.Err = nil
	m.state.LastCheck = m.now()
	m.state.Source = source
	m.scheduleNotifyLocked()
}

// RecordFailure records the outcome of a failed auth check. An expected
// negative (see ErrUnauthenticated) moves the state to logged-out without
// touching the breaker; anything else counts against the breaker and is
// surfaced in State.Err for display.
func (m *Manager) RecordFailure(err error) {
	expected := IsUnauthenticated(err)
	if !expected {
		m.breaker.RecordFailure()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Loading = false
	m.state.LastCheck = m.now()
	if expected {
		m.state.Authenticated = false
		m.state.User = nil
		m.state.Err = nil
		m.state.Source = SourceNetwork
	} else {
		// Keep the last-known identity; the gate stops retry thrash and the
		// UI shows stable state rather than a spinner.
		m.state.Err = err
	}
	m.scheduleNotifyLocked()
}

// UpdateFromCache installs an identity read from the in-process cache.
// Mutates and notifies only when the identity actually differs.
func (m *Manager) UpdateFromCache(user *Identity) {
	m.updateFrom(user, SourceCache)
}

// UpdateFromStorage installs an identity read from durable local storage.
// Mutates and notifies only when the identity actually differs.
func (m *Manager) UpdateFromStorage(user *Identity) {
	m.updateFrom(user, SourceStorage)
}

func (m *Manager) updateFrom(user *Identity, source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sameIdentity(m.state.User, user) {
		return
	}

	if user == nil {
		m.state.Authenticated = false
		m.state.User = nil
	} else {
		u := *user
		m.state.Authenticated = true
		m.state.User = &u
	}
	m.state.Source = source
	m.scheduleNotifyLocked()
}

// Reset returns the state to unauthenticated/initial. Circuit breaker
// counters are deliberately preserved: a logout must not hand a thrashing
// backend a fresh budget of retries.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = State{Source: SourceInitial}
	m.scheduleNotifyLocked()
}

// FlushChanges delivers any pending notification immediately. Call before a
// context unloads so subscribers see the final state.
func (m *Manager) FlushChanges() {
	m.notify.Flush()
}

// CancelChanges discards any pending notification.
func (m *Manager) CancelChanges() {
	m.notify.Cancel()
}

// Close cancels pending notifications and releases the debounce timers.
func (m *Manager) Close() {
	m.notify.Close()
}

func (m *Manager) scheduleNotifyLocked() {
	m.notify.Trigger()
}

// deliver fans the current snapshot out to all listeners.
func (m *Manager) deliver() {
	m.mu.Lock()
	snapshot := m.state.clone()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		m.invoke(fn, snapshot)
	}
	recordNotification(len(fns))
}

// invoke calls one listener, isolating panics so a faulty subscriber cannot
// block delivery to the rest.
func (m *Manager) invoke(fn Listener, s State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("auth state listener panicked", "panic", r)
		}
	}()
	fn(s)
}
