// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package authstate

import "errors"

// ErrUnauthenticated is the expected-negative result of an auth check: the
// backend answered, and the answer is "not logged in". Checkers wrap this
// sentinel so the manager can tell an expected negative from a backend fault.
var ErrUnauthenticated = errors.New("not authenticated")

// IsUnauthenticated reports whether err is the expected-negative outcome.
// Expected negatives update state to logged-out but never touch the circuit
// breaker; an expected "no" is not a backend malfunction.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
