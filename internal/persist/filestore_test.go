// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, contextID string) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "shared.json"), contextID)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Set("k", "v"))

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	require.NoError(t, s.Delete("k"))
	_, ok, err = s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete("absent"), "deleting an absent key is not an error")
}

func TestFileStore_RoundTrip(t *testing.T) {
	s := newTestFileStore(t, "ctx-a")

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok, "missing file reads as empty store")

	require.NoError(t, s.Set("session.current", "u1"))
	require.NoError(t, s.Set("ui.theme", "dark"))

	v, ok, err := s.Get("session.current")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session.current", "ui.theme"}, keys)
}

func TestFileStore_DeleteLeavesAttributableTombstone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	a := NewFileStore(path, "ctx-a")
	b := NewFileStore(path, "ctx-b")

	require.NoError(t, a.Set("session.current", "u1"))
	require.NoError(t, b.Delete("session.current"))

	// Live view hides the tombstone from both handles.
	_, ok, err := a.Get("session.current")
	require.NoError(t, err)
	assert.False(t, ok)
	keys, err := a.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The raw entry still attributes the deletion to ctx-b.
	entries, err := b.load()
	require.NoError(t, err)
	tomb, ok := entries["session.current"]
	require.True(t, ok)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, "ctx-b", tomb.Writer)
}

func TestFileStore_TombstonePruning(t *testing.T) {
	s := newTestFileStore(t, "ctx-a")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return base }

	require.NoError(t, s.Set("old_token", "x"))
	require.NoError(t, s.Delete("old_token"))

	// Any write after the TTL prunes the expired tombstone.
	s.nowFunc = func() time.Time { return base.Add(tombstoneTTL + time.Minute) }
	require.NoError(t, s.Set("ui.theme", "dark"))

	entries, err := s.load()
	require.NoError(t, err)
	_, ok := entries["old_token"]
	assert.False(t, ok, "expired tombstone pruned on save")
}

func TestFileStore_SharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	a := NewFileStore(path, "ctx-a")
	b := NewFileStore(path, "ctx-b")

	require.NoError(t, a.Set("k", "from-a"))

	v, ok, err := b.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)
}

func TestFileStore_WatchSeesSiblingChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	a := NewFileStore(path, "ctx-a")
	b := NewFileStore(path, "ctx-b")

	// Seed before watching so the initial snapshot is non-empty.
	require.NoError(t, a.Set("session.current", "u1"))

	var mu sync.Mutex
	var events []Event
	stop, err := a.Watch(nil, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.Set("access_token", "t1"))
	require.NoError(t, b.Delete("session.current"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		var sawUpdate, sawRemove bool
		for _, ev := range events {
			if ev.Key == "access_token" && ev.Kind == EntryUpdated && ev.Writer == "ctx-b" {
				sawUpdate = true
			}
			if ev.Key == "session.current" && ev.Kind == EntryRemoved && ev.Writer == "ctx-b" {
				sawRemove = true
			}
		}
		return sawUpdate && sawRemove
	}, 3*time.Second, 20*time.Millisecond, "watch feed attributes sibling writes")
}
