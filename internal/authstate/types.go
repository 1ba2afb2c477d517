// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package authstate holds the authoritative authentication state for one
// running context: the current identity, the circuit breaker guarding the
// backend, and a debounced pub/sub hub that fans state changes out to
// subscribers.
package authstate

import "time"

// Source identifies where the current authentication state came from.
type Source string

const (
	// SourceInitial is the state a context starts in before any check.
	SourceInitial Source = "initial"

	// SourceCache means the state was populated from an in-process cache.
	SourceCache Source = "cache"

	// SourceNetwork means the state was verified against the backend.
	SourceNetwork Source = "network"

	// SourceStorage means the state was read from durable local storage.
	SourceStorage Source = "storage"
)

// Identity is the user record attached to an authenticated state.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// State is a snapshot of a context's authentication state.
// Invariant: User != nil exactly when Authenticated is true.
type State struct {
	Authenticated bool
	User          *Identity
	Loading       bool
	Err           error
	LastCheck     time.Time
	Source        Source
}

// clone returns a defensive copy so callers cannot mutate manager-owned state.
func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// sameIdentity compares identities by their stable ID. Collaborators hand us
// freshly deserialized records on every read, so pointer or full-value
// comparison would report a change on every call and spam subscribers.
func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
