// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/authpulse/authpulse/internal/config"
	"github.com/authpulse/authpulse/internal/persist"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the shared authentication state on this machine",
		Long: `Show what the cross-context shared storage currently records:
whether a session is live, which keys are present, and how many cookies
survive in the jar.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	shared := persist.NewFileStore(filepath.Join(cfg.Paths.StateDir, "shared.json"), "status")
	jar := persist.NewCookieJar(filepath.Join(cfg.Paths.StateDir, "cookies.json"))

	keys, err := shared.Keys()
	if err != nil {
		return fmt.Errorf("failed to read shared storage: %w", err)
	}
	sort.Strings(keys)

	_, sessionLive, err := shared.Get(persist.MonitoredKey)
	if err != nil {
		return fmt.Errorf("failed to read session key: %w", err)
	}

	cookies, err := jar.Cookies()
	if err != nil {
		return fmt.Errorf("failed to read cookie jar: %w", err)
	}

	cmd.Printf("state dir:   %s\n", cfg.Paths.StateDir)
	if sessionLive {
		cmd.Println("session:     live")
	} else {
		cmd.Println("session:     none")
	}
	cmd.Printf("cookies:     %d\n", len(cookies))
	cmd.Printf("shared keys: %d\n", len(keys))
	for _, k := range keys {
		cmd.Printf("  %s\n", k)
	}
	return nil
}
