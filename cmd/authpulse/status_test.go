// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authpulse/authpulse/internal/persist"
)

func runStatusIn(t *testing.T, stateDir string) string {
	t.Helper()
	configFile = ""

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--paths-state-dir=" + stateDir, "--paths-data-dir=" + t.TempDir()})

	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestStatusCommand_NoSession(t *testing.T) {
	output := runStatusIn(t, t.TempDir())

	assert.Contains(t, output, "session:     none")
	assert.Contains(t, output, "cookies:     0")
}

func TestStatusCommand_LiveSession(t *testing.T) {
	stateDir := t.TempDir()
	shared := persist.NewFileStore(filepath.Join(stateDir, "shared.json"), "ctx-test")
	require.NoError(t, shared.Set(persist.MonitoredKey, "u1"))
	require.NoError(t, shared.Set("preferred-locale", "en"))

	output := runStatusIn(t, stateDir)

	assert.Contains(t, output, "session:     live")
	assert.Contains(t, output, persist.MonitoredKey)
	assert.Contains(t, output, "preferred-locale")
}
