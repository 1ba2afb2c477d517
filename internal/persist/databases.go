// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// sqlite driver for the on-device identity cache.
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/pkg/errutil"
)

// databaseExt is the filename extension of on-device databases.
const databaseExt = ".db"

// SweepDatabases best-effort deletes every on-device database under dataDir
// whose name matches the auth deny-list. Deletion can block on connections
// other contexts still hold open, so each removal is retried briefly and
// failures are logged and swallowed: blocking logout on a stuck database
// would hang the caller.
func SweepDatabases(ctx context.Context, dataDir string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			errutil.LogError(logger, "enumerating on-device databases failed",
				oops.Code("DB_SWEEP_FAILED").With("dir", dataDir).Wrap(err))
			recordCleanupFailure(tierDatabase)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != databaseExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), databaseExt)
		if !IsAuthKey(name) {
			continue
		}

		path := filepath.Join(dataDir, entry.Name())
		backoff := retry.WithMaxRetries(2, retry.NewFibonacci(50*time.Millisecond))
		err := retry.Do(ctx, backoff, func(context.Context) error {
			return retry.RetryableError(os.Remove(path))
		})
		if err != nil {
			errutil.LogError(logger, "deleting on-device database failed",
				oops.Code("DB_DELETE_FAILED").With("path", path).Wrap(err))
			recordCleanupFailure(tierDatabase)
			continue
		}
		recordCleanupRemoval(tierDatabase)
		logger.Debug("deleted on-device database", "path", path)
	}
}

// IdentityCache is the sqlite-backed record of the last verified identity.
// A context reads it once at startup to render a plausible state before the
// first network check; logout clears it.
type IdentityCache struct {
	db   *sql.DB
	path string
}

// OpenIdentityCache opens (creating if needed) the cache database at path.
func OpenIdentityCache(path string) (*IdentityCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, oops.Code("CACHE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, oops.Code("CACHE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS identity (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		verified_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		//nolint:errcheck // already failing; nothing to do about close errors
		db.Close()
		return nil, oops.Code("CACHE_MIGRATE_FAILED").With("path", path).Wrap(err)
	}

	return &IdentityCache{db: db, path: path}, nil
}

// Load returns the cached identity, or nil if none is cached.
func (c *IdentityCache) Load(ctx context.Context) (*authstate.Identity, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM identity ORDER BY verified_at DESC LIMIT 1`)

	var ident authstate.Identity
	if err := row.Scan(&ident.ID, &ident.Email, &ident.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, oops.Code("CACHE_READ_FAILED").Wrap(err)
	}
	return &ident, nil
}

// Save replaces the cached identity.
func (c *IdentityCache) Save(ctx context.Context, ident authstate.Identity) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("CACHE_WRITE_FAILED").Wrap(err)
	}
	//nolint:errcheck // rollback after commit is a no-op
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity`); err != nil {
		return oops.Code("CACHE_WRITE_FAILED").Wrap(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identity (id, email, name, verified_at) VALUES (?, ?, ?, ?)`,
		ident.ID, ident.Email, ident.Name, time.Now().UTC(),
	); err != nil {
		return oops.Code("CACHE_WRITE_FAILED").Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return oops.Code("CACHE_WRITE_FAILED").Wrap(err)
	}
	return nil
}

// Clear removes any cached identity.
func (c *IdentityCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM identity`); err != nil {
		return oops.Code("CACHE_CLEAR_FAILED").Wrap(err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *IdentityCache) Close() error {
	//nolint:wrapcheck // close errors pass through unchanged
	return c.db.Close()
}
