// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"strings"

	"github.com/gobwas/glob"
)

// authKeyFragments are the substrings that mark a storage key, cookie, or
// database name as authentication material. Matching is case-insensitive
// substring containment, mirroring how identity vendors scatter their keys:
// false negatives here leak credentials past logout, so the list is broad on
// purpose and over-matching is the accepted trade-off.
var authKeyFragments = []string{
	"auth",
	"token",
	"session",
	"credential",
	"identity",
	"jwt",
	"login",
}

// authKeyGlobs cover vendor key shapes that substring fragments alone would
// miss. Exact vendor key names are not part of the contract; only the
// matching rule is.
var authKeyGlobs = compileGlobs([]string{
	"sb-*",       // supabase project-scoped keys
	"oidc.*",     // oidc-client state
	"__secure-*", // cookie prefix convention
	"__host-*",   // cookie prefix convention
})

func compileGlobs(patterns []string) []glob.Glob {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		globs = append(globs, glob.MustCompile(p))
	}
	return globs
}

// IsAuthKey reports whether name denotes auth data subject to cleanup.
func IsAuthKey(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range authKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	for _, g := range authKeyGlobs {
		if g.Match(lower) {
			return true
		}
	}
	return false
}
