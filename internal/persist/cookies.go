// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
)

// CookiePaths are the paths under which the backend is known to scope
// cookies. Logout expires auth cookies under every one of them.
var CookiePaths = []string{"/", "/api", "/app"}

// DomainVariants returns the domain scopes a cookie for host may carry:
// the bare host, the dot-prefixed host, and the empty (host-only) domain.
func DomainVariants(host string) []string {
	return []string{host, "." + host, ""}
}

// CookieRecord is one persisted cookie. A cookie's identity is the
// (Name, Path, Domain) triple; a record with a past expiry overwrites and
// removes the live record with the same identity.
type CookieRecord struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path"`
	Domain  string    `json:"domain"`
	Expires time.Time `json:"expires"`
}

func (r CookieRecord) sameScope(o CookieRecord) bool {
	return r.Name == o.Name && r.Path == o.Path && r.Domain == o.Domain
}

func (r CookieRecord) expired(now time.Time) bool {
	return !r.Expires.IsZero() && r.Expires.Before(now)
}

// CookieJar is a file-persisted cookie jar shared by sibling contexts.
// Safe for concurrent use within a process.
type CookieJar struct {
	mu      sync.Mutex
	path    string
	nowFunc func() time.Time
}

// NewCookieJar opens (or lazily creates) the jar file at path.
func NewCookieJar(path string) *CookieJar {
	return &CookieJar{path: path, nowFunc: time.Now}
}

// Cookies returns all live (unexpired) cookies.
func (j *CookieJar) Cookies() ([]CookieRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return nil, err
	}

	now := j.nowFunc()
	live := make([]CookieRecord, 0, len(records))
	for _, r := range records {
		if !r.expired(now) {
			live = append(live, r)
		}
	}
	return live, nil
}

// SetCookie upserts the cookie with rec's (Name, Path, Domain) identity.
// A past expiry removes the matching record, mirroring how browsers treat
// expiry overwrites.
func (j *CookieJar) SetCookie(rec CookieRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, r := range records {
		if !r.sameScope(rec) {
			kept = append(kept, r)
		}
	}
	if !rec.expired(j.nowFunc()) {
		kept = append(kept, rec)
	}
	return j.save(kept)
}

// ExpireAuthCookies emits expiry overwrites for every deny-list-matching
// cookie name across the full cross-product of known paths and domain
// variants of host. A single blanket expiry cannot defeat unknown
// path/domain scoping, so the cross-product is a deliberate brute-force
// guarantee. Returns the number of overwrites emitted.
func (j *CookieJar) ExpireAuthCookies(host string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return 0, err
	}

	names := make(map[string]bool)
	for _, r := range records {
		if IsAuthKey(r.Name) {
			names[r.Name] = true
		}
	}

	epoch := time.Unix(0, 0).UTC()
	overwrites := 0
	for name := range names {
		for _, path := range CookiePaths {
			for _, domain := range DomainVariants(host) {
				overwrite := CookieRecord{
					Name:    name,
					Path:    path,
					Domain:  domain,
					Expires: epoch,
				}
				kept := records[:0]
				for _, r := range records {
					if !r.sameScope(overwrite) {
						kept = append(kept, r)
					}
				}
				records = kept
				overwrites++
			}
		}
	}

	if err := j.save(records); err != nil {
		return overwrites, err
	}
	return overwrites, nil
}

// load reads the jar file. A missing file is an empty jar.
// Callers hold j.mu.
func (j *CookieJar) load() ([]CookieRecord, error) {
	raw, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("COOKIE_READ_FAILED").With("path", j.path).Wrap(err)
	}

	var records []CookieRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, oops.Code("COOKIE_DECODE_FAILED").With("path", j.path).Wrap(err)
		}
	}
	return records, nil
}

// save writes the jar atomically. Callers hold j.mu.
func (j *CookieJar) save(records []CookieRecord) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return oops.Code("COOKIE_ENCODE_FAILED").Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return oops.Code("COOKIE_WRITE_FAILED").With("path", j.path).Wrap(err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return oops.Code("COOKIE_WRITE_FAILED").With("path", j.path).Wrap(err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		//nolint:errcheck // best-effort cleanup on the failure path
		os.Remove(tmp)
		return oops.Code("COOKIE_WRITE_FAILED").With("path", j.path).Wrap(err)
	}
	return nil
}
