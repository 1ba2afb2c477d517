// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/authpulse/authpulse/pkg/errutil"
)

// Well-known shared-store keys.
const (
	// MonitoredKey holds the current session marker in the shared store.
	// Its removal by a sibling context is the storage-level logout signal.
	// The name intentionally matches the deny-list so ClearAllAuthData
	// removes it as part of the normal sweep.
	MonitoredKey = "session.current"

	// logoutMarkerKey records the instant of the most recent logout. It
	// lives in the shared tier so every context sees the same suppression
	// window, and is deliberately named outside the deny-list so cleanup
	// does not erase its own marker.
	logoutMarkerKey = "logout.marker"

	// LogoutMarkerTTL is how long the logout marker suppresses re-checks:
	// just long enough to cover the race window between logout and the
	// consumer finishing its transition.
	LogoutMarkerTTL = 30 * time.Second
)

// CleanerConfig wires a Cleaner to the persistence tiers of one context.
type CleanerConfig struct {
	// Memory is the context-scoped key-value tier.
	Memory Store

	// Shared is the cross-context file-backed tier.
	Shared *FileStore

	// Jar is the persisted cookie jar. Optional.
	Jar *CookieJar

	// Cache is the sqlite identity cache. Optional; when set it is cleared
	// synchronously on cleanup, before the async database sweep.
	Cache *IdentityCache

	// DataDir is the directory swept for on-device databases. Optional.
	DataDir string

	// CookieHost is the backend host whose cookie scopes are expired.
	CookieHost string

	// ContextID attributes this context's own storage writes.
	ContextID string

	// Logger receives swallowed cleanup faults. Defaults to slog.Default().
	Logger *slog.Logger
}

// Cleaner evicts authentication artifacts from every persistence tier and
// watches the shared tier for logout signals from sibling contexts.
//
// Cleanup faults never propagate: logical logout must not be blocked by a
// stuck storage tier, so every failure is logged and swallowed.
type Cleaner struct {
	cfg CleanerConfig
	now func() time.Time
}

// NewCleaner creates a cleaner over the given tiers.
func NewCleaner(cfg CleanerConfig) *Cleaner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cleaner{cfg: cfg, now: time.Now}
}

// ClearAllAuthData evicts every deny-list-matching artifact: keys in both
// key-value tiers, cookies across the path/domain cross-product, the
// identity cache, and (asynchronously) matching on-device databases.
//
// The returned channel closes when the database sweep finishes. Long-lived
// callers may ignore it; short-lived ones (a CLI about to exit) should wait
// on it so the sweep is not orphaned by process teardown.
func (c *Cleaner) ClearAllAuthData(ctx context.Context) <-chan struct{} {
	c.purgeStore(c.cfg.Memory, tierMemory)
	c.purgeStore(c.cfg.Shared, tierShared)

	if c.cfg.Jar != nil {
		n, err := c.cfg.Jar.ExpireAuthCookies(c.cfg.CookieHost)
		if err != nil {
			errutil.LogError(c.cfg.Logger, "expiring auth cookies failed", err)
			recordCleanupFailure(tierCookie)
		} else if n > 0 {
			recordCleanupRemoval(tierCookie)
			c.cfg.Logger.Debug("expired auth cookies", "overwrites", n)
		}
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Clear(ctx); err != nil {
			errutil.LogError(c.cfg.Logger, "clearing identity cache failed", err)
			recordCleanupFailure(tierDatabase)
		}
	}

	done := make(chan struct{})
	if c.cfg.DataDir == "" {
		close(done)
		return done
	}

	// Database deletion can block on connections held elsewhere; run it
	// detached from the caller's deadline so logout returns promptly.
	sweepCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		SweepDatabases(sweepCtx, c.cfg.DataDir, c.cfg.Logger)
	}()
	return done
}

// purgeStore removes every deny-list-matching key from one tier.
func (c *Cleaner) purgeStore(store Store, tier string) {
	if store == nil {
		return
	}

	keys, err := store.Keys()
	if err != nil {
		errutil.LogError(c.cfg.Logger, "enumerating storage tier failed",
			oops.Code("CLEANUP_ENUMERATE_FAILED").With("tier", tier).Wrap(err))
		recordCleanupFailure(tier)
		return
	}

	for _, key := range keys {
		if !IsAuthKey(key) {
			continue
		}
		if err := store.Delete(key); err != nil {
			errutil.LogError(c.cfg.Logger, "removing auth key failed",
				oops.Code("CLEANUP_DELETE_FAILED").With("tier", tier).With("key", key).Wrap(err))
			recordCleanupFailure(tier)
			continue
		}
		recordCleanupRemoval(tier)
	}
}

// markerStore returns the tier holding the logout marker: the shared tier,
// so sibling processes and freshly started contexts all see the same
// suppression window, falling back to the context tier when no shared store
// is wired.
func (c *Cleaner) markerStore() Store {
	if c.cfg.Shared != nil {
		return c.cfg.Shared
	}
	return c.cfg.Memory
}

// MarkLogoutState records the logout instant so check loops can suppress
// spurious re-checks during the transition. The marker key sits outside the
// deny-list, so ClearAllAuthData cannot erase it.
func (c *Cleaner) MarkLogoutState() {
	store := c.markerStore()
	if store == nil {
		return
	}
	ts := c.now().UTC().Format(time.RFC3339Nano)
	if err := store.Set(logoutMarkerKey, ts); err != nil {
		errutil.LogError(c.cfg.Logger, "writing logout marker failed", err)
	}
}

// IsInLogoutState reports whether a logout happened within the marker TTL.
// The comparison is by timestamp, never a timer, so a suspended context
// cannot wake up with a stale suppression still armed.
func (c *Cleaner) IsInLogoutState() bool {
	store := c.markerStore()
	if store == nil {
		return false
	}
	raw, ok, err := store.Get(logoutMarkerKey)
	if err != nil || !ok {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return c.now().Sub(ts) < LogoutMarkerTTL
}

// ClearLogoutState removes the logout marker.
func (c *Cleaner) ClearLogoutState() {
	store := c.markerStore()
	if store == nil {
		return
	}
	if err := store.Delete(logoutMarkerKey); err != nil {
		errutil.LogError(c.cfg.Logger, "clearing logout marker failed", err)
	}
}

// SetupAuthStateMonitor watches the shared tier for removal of the monitored
// session key by another context. On detection it runs the same cleanup
// locally, marks the logout state, and invokes onLogout. Returns an
// unsubscribe function.
func (c *Cleaner) SetupAuthStateMonitor(onLogout func()) (func(), error) {
	if c.cfg.Shared == nil {
		return nil, oops.Code("MONITOR_NO_SHARED_STORE").Errorf("shared store is required for auth state monitoring")
	}

	stop, err := c.cfg.Shared.Watch(c.cfg.Logger, func(ev Event) {
		if ev.Key != MonitoredKey || ev.Kind != EntryRemoved {
			return
		}
		if ev.Writer == c.cfg.ContextID {
			return
		}

		c.cfg.Logger.Info("sibling context logged out; clearing local auth data",
			"writer", ev.Writer,
		)
		c.ClearAllAuthData(context.Background())
		c.MarkLogoutState()
		onLogout()
	})
	if err != nil {
		return nil, oops.Code("MONITOR_SETUP_FAILED").Wrap(err)
	}
	return stop, nil
}
