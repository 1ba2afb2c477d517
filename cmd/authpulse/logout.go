// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/authpulse/authpulse/internal/channel"
	"github.com/authpulse/authpulse/internal/config"
	"github.com/authpulse/authpulse/internal/logging"
	"github.com/authpulse/authpulse/internal/persist"
	"github.com/authpulse/authpulse/pkg/errutil"
)

// sweepWaitTimeout bounds how long logout waits for the database sweep
// before exiting anyway.
const sweepWaitTimeout = 10 * time.Second

// NewLogoutCmd creates the logout subcommand.
func NewLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear all local auth data and notify sibling processes",
		Long: `Clear authentication artifacts from every local persistence tier
(shared storage, cookies, identity cache, on-device databases), set the
logout marker, and broadcast the logout to sibling processes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(cmd)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runLogout(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	// No session URL needed to log out locally; skip full validation.
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", cfg.Log.Format)
	}

	logging.SetDefault("authpulse", version, cfg.Log.Format)
	logger := slog.Default()

	ctx := cmd.Context()
	contextID := channel.NewContextID()

	shared := persist.NewFileStore(filepath.Join(cfg.Paths.StateDir, "shared.json"), contextID.String())
	jar := persist.NewCookieJar(filepath.Join(cfg.Paths.StateDir, "cookies.json"))

	cache, err := persist.OpenIdentityCache(filepath.Join(cfg.Paths.DataDir, "identity-cache.db"))
	if err != nil {
		errutil.LogError(logger, "identity cache unavailable, skipping", err)
		cache = nil
	} else {
		defer func() {
			//nolint:errcheck // shutdown path
			cache.Close()
		}()
	}

	cleaner := persist.NewCleaner(persist.CleanerConfig{
		Memory:     persist.NewMemoryStore(),
		Shared:     shared,
		Jar:        jar,
		Cache:      cache,
		DataDir:    cfg.Paths.DataDir,
		CookieHost: cfg.Backend.CookieHost,
		ContextID:  contextID.String(),
		Logger:     logger,
	})

	sweepDone := cleaner.ClearAllAuthData(ctx)
	cleaner.MarkLogoutState()

	if cfg.Redis.Addr != "" {
		bcast, dialErr := channel.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Channel, contextID, logger)
		if dialErr != nil {
			errutil.LogError(logger, "broadcast channel unavailable, siblings rely on shared storage", dialErr)
		} else {
			defer bcast.Close()
			if pubErr := bcast.Publish(ctx, channel.KindLogout); pubErr != nil {
				errutil.LogError(logger, "failed to broadcast logout", pubErr)
			}
		}
	}

	// Unlike the long-lived agent, this process exits as soon as we return;
	// wait for the database sweep so it is not orphaned by teardown.
	select {
	case <-sweepDone:
	case <-time.After(sweepWaitTimeout):
		logger.Warn("database sweep still running, giving up waiting")
	}

	cmd.Println("Logged out: local auth data cleared")
	return nil
}
