// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// EventKind classifies a shared-store change.
type EventKind int

const (
	// EntryUpdated means a key was created or its value changed.
	EntryUpdated EventKind = iota
	// EntryRemoved means a key was deleted.
	EntryRemoved
)

// Event describes one observed change to the shared store. Writer is the
// context ID that performed the change ("" when the writer cannot be
// attributed, e.g. an external truncation of the file).
type Event struct {
	Key    string
	Kind   EventKind
	Writer string
}

// Watch starts a passive change feed over the shared store file and invokes
// onEvent for every observed key change, including this context's own writes
// (consumers filter by Writer). Events may be delivered more than once
// around bursty filesystem activity; handlers must be idempotent.
//
// The returned stop function tears the watcher down and waits for the
// feed goroutine to exit.
func (s *FileStore) Watch(logger *slog.Logger, onEvent func(Event)) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.Code("STORE_WATCH_FAILED").Wrap(err)
	}

	// Watch the directory rather than the file: atomic rename writes replace
	// the inode, which would silently detach a file-level watch.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		//nolint:errcheck // already failing; nothing to do about close errors
		watcher.Close()
		return nil, oops.Code("STORE_WATCH_FAILED").With("dir", dir).Wrap(err)
	}

	snapshot := s.liveSnapshot()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				snapshot = s.diffAndEmit(snapshot, onEvent)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("shared store watch error", "error", err)
			}
		}
	}()

	return func() {
		//nolint:errcheck // shutdown path; close errors carry no signal
		watcher.Close()
		wg.Wait()
	}, nil
}

// liveSnapshot returns the current live entries, or an empty map if the
// store is unreadable (the next successful reload resynchronizes).
func (s *FileStore) liveSnapshot() map[string]fileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return make(map[string]fileEntry)
	}
	live := make(map[string]fileEntry, len(entries))
	for k, e := range entries {
		if !e.Deleted {
			live[k] = e
		}
	}
	return live
}

// diffAndEmit reloads the store, emits events for every difference against
// prev, and returns the new live snapshot.
func (s *FileStore) diffAndEmit(prev map[string]fileEntry, onEvent func(Event)) map[string]fileEntry {
	s.mu.Lock()
	entries, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return prev
	}

	live := make(map[string]fileEntry, len(entries))
	for k, e := range entries {
		if !e.Deleted {
			live[k] = e
		}
	}

	for k := range prev {
		if _, ok := live[k]; ok {
			continue
		}
		writer := ""
		if tomb, ok := entries[k]; ok && tomb.Deleted {
			writer = tomb.Writer
		}
		onEvent(Event{Key: k, Kind: EntryRemoved, Writer: writer})
	}

	for k, now := range live {
		was, existed := prev[k]
		if !existed || was.Value != now.Value || !was.UpdatedAt.Equal(now.UpdatedAt) {
			onEvent(Event{Key: k, Kind: EntryUpdated, Writer: now.Writer})
		}
	}

	return live
}
