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

// tombstoneTTL is how long deletion tombstones are kept so sibling contexts
// can attribute a removal to its writer before the record is pruned.
const tombstoneTTL = time.Hour

// fileEntry is one record in the shared store file. Deletions leave a
// tombstone (Deleted=true, empty value) so that a context reloading the file
// can tell who removed a key; tombstones are pruned after tombstoneTTL.
type fileEntry struct {
	Value     string    `json:"value,omitempty"`
	Writer    string    `json:"writer"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// FileStore is the cross-context tier: a single JSON file shared by every
// context of the application, like cross-page storage in a browser. Each
// entry carries the writing context's ID so change observers can ignore
// their own writes. Writes are atomic (temp file + rename).
//
// Safe for concurrent use within a process. Across processes the store is
// deliberately last-writer-wins: concurrent external mutation is an expected
// signal to react to, not a race to prevent.
type FileStore struct {
	mu      sync.Mutex
	path    string
	writer  string
	nowFunc func() time.Time
}

// NewFileStore opens (or lazily creates) the shared store at path, stamping
// all writes with contextID.
func NewFileStore(path, contextID string) *FileStore {
	return &FileStore{
		path:    path,
		writer:  contextID,
		nowFunc: time.Now,
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Keys lists every live (non-tombstoned) key.
func (s *FileStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for k, e := range entries {
		if !e.Deleted {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Get returns the value for key and whether a live entry exists.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", false, err
	}
	e, ok := entries[key]
	if !ok || e.Deleted {
		return "", false, nil
	}
	return e.Value, true, nil
}

// Set stores value under key, attributed to this context.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[key] = fileEntry{
		Value:     value,
		Writer:    s.writer,
		UpdatedAt: s.nowFunc(),
	}
	return s.save(entries)
}

// Delete tombstones key, attributed to this context.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if e, ok := entries[key]; !ok || e.Deleted {
		return nil
	}
	entries[key] = fileEntry{
		Writer:    s.writer,
		UpdatedAt: s.nowFunc(),
		Deleted:   true,
	}
	return s.save(entries)
}

// load reads the store file. A missing file is an empty store.
// Callers hold s.mu.
func (s *FileStore) load() (map[string]fileEntry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]fileEntry), nil
		}
		return nil, oops.Code("STORE_READ_FAILED").With("path", s.path).Wrap(err)
	}

	entries := make(map[string]fileEntry)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, oops.Code("STORE_DECODE_FAILED").With("path", s.path).Wrap(err)
		}
	}
	return entries, nil
}

// save writes the store atomically and prunes expired tombstones.
// Callers hold s.mu.
func (s *FileStore) save(entries map[string]fileEntry) error {
	cutoff := s.nowFunc().Add(-tombstoneTTL)
	for k, e := range entries {
		if e.Deleted && e.UpdatedAt.Before(cutoff) {
			delete(entries, k)
		}
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return oops.Code("STORE_ENCODE_FAILED").Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		//nolint:errcheck // already failing; best-effort cleanup
		tmp.Close()
		//nolint:errcheck
		os.Remove(tmpName)
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		//nolint:errcheck
		os.Remove(tmpName)
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		//nolint:errcheck
		os.Remove(tmpName)
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		//nolint:errcheck
		os.Remove(tmpName)
		return oops.Code("STORE_WRITE_FAILED").With("path", s.path).Wrap(err)
	}
	return nil
}
