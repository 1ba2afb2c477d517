// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authpulse/authpulse/internal/admission"
	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/internal/persist"
)

// countingChecker records how many session checks actually reach the backend.
type countingChecker struct {
	calls atomic.Int32
}

func (c *countingChecker) Check(context.Context) (*authstate.Identity, error) {
	c.calls.Add(1)
	return &authstate.Identity{ID: "u1"}, nil
}

func newTestAgent(t *testing.T) (*agentLoop, *countingChecker, *persist.Cleaner) {
	t.Helper()

	shared := persist.NewFileStore(filepath.Join(t.TempDir(), "shared.json"), "ctx-a")
	cleaner := persist.NewCleaner(persist.CleanerConfig{
		Memory:    persist.NewMemoryStore(),
		Shared:    shared,
		ContextID: "ctx-a",
	})

	mgr := authstate.NewManager(authstate.ManagerConfig{
		NotifyWait:    10 * time.Millisecond,
		NotifyMaxWait: 50 * time.Millisecond,
	})
	t.Cleanup(mgr.Close)

	check := &countingChecker{}
	agent := &agentLoop{
		logger:  slog.Default(),
		mgr:     mgr,
		gate:    admission.NewGate(admission.Config{}, mgr.Breaker()),
		check:   check,
		cleaner: cleaner,
		shared:  shared,
	}
	return agent, check, cleaner
}

func TestCheckOnce_SuppressedDuringLogoutWindow(t *testing.T) {
	agent, check, cleaner := newTestAgent(t)
	ctx := context.Background()

	cleaner.MarkLogoutState()
	agent.checkOnce(ctx)
	assert.Zero(t, check.calls.Load(), "no backend query while the logout marker is fresh")

	cleaner.ClearLogoutState()
	agent.checkOnce(ctx)
	assert.EqualValues(t, 1, check.calls.Load(), "checks resume once the marker is cleared")
}

func TestCheckOnce_SuccessRecordsSharedSession(t *testing.T) {
	agent, check, _ := newTestAgent(t)

	agent.checkOnce(context.Background())

	require.EqualValues(t, 1, check.calls.Load())
	assert.True(t, agent.mgr.GetState().Authenticated)

	userID, ok, err := agent.shared.Get(persist.MonitoredKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
}
