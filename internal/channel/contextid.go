// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package channel links sibling contexts of the same application through a
// push message channel and gives each context a stable opaque identity.
package channel

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewContextID mints the opaque identity for a running context. A context
// mints exactly one at startup and passes it to every component that needs
// to attribute actions to itself; components take it by injection rather
// than reading process-global state, so tests can run many contexts in one
// process.
func NewContextID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
