// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authpulse/authpulse/internal/admission"
	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/internal/channel"
	"github.com/authpulse/authpulse/internal/checker"
	"github.com/authpulse/authpulse/internal/config"
	"github.com/authpulse/authpulse/internal/logging"
	"github.com/authpulse/authpulse/internal/observability"
	"github.com/authpulse/authpulse/internal/persist"
	"github.com/authpulse/authpulse/internal/xdg"
	"github.com/authpulse/authpulse/pkg/errutil"
)

// pollInterval is how often the run loop offers a check to the admission
// gate. The gate, not this interval, decides the actual check rate.
const pollInterval = time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the authentication resilience agent",
		Long: `Run the agent loop: periodically verify the backend session through
the admission gate and circuit breaker, publish login/logout transitions to
sibling processes, and react to theirs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), cmd)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

// addConfigFlags registers the flags that override file configuration.
// Flag names map onto config keys: the first dash separates the section.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-session-url", "", "backend session endpoint URL")
	f.String("backend-cookie-host", "", "backend host whose cookies are expired on logout")
	f.String("redis-addr", "", "redis address for the cross-context channel (empty = disabled)")
	f.String("redis-channel", channel.DefaultName, "pub/sub channel name")
	f.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	f.String("log-format", "json", "log format (json or text)")
	f.String("paths-state-dir", "", "state directory (default: XDG_STATE_HOME/authpulse)")
	f.String("paths-data-dir", "", "data directory (default: XDG_DATA_HOME/authpulse)")
	f.Duration("admission-min-interval", admission.DefaultMinInterval, "minimum spacing between session checks")
	f.Duration("breaker-base-timeout", authstate.DefaultBaseTimeout, "circuit breaker base backoff")
}

func runAgent(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("authpulse", version, cfg.Log.Format)
	logger := slog.Default()

	contextID := channel.NewContextID()
	logger.Info("starting agent",
		"context_id", contextID.String(),
		"session_url", cfg.Backend.SessionURL,
	)

	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.DataDir} {
		if err := xdg.EnsureDir(dir); err != nil {
			return err
		}
	}

	memory := persist.NewMemoryStore()
	shared := persist.NewFileStore(filepath.Join(cfg.Paths.StateDir, "shared.json"), contextID.String())
	jar := persist.NewCookieJar(filepath.Join(cfg.Paths.StateDir, "cookies.json"))

	cache, err := persist.OpenIdentityCache(filepath.Join(cfg.Paths.DataDir, "identity-cache.db"))
	if err != nil {
		errutil.LogError(logger, "identity cache unavailable, continuing without it", err)
		cache = nil
	} else {
		defer func() {
			if closeErr := cache.Close(); closeErr != nil {
				logger.Debug("error closing identity cache", "error", closeErr)
			}
		}()
	}

	cleaner := persist.NewCleaner(persist.CleanerConfig{
		Memory:     memory,
		Shared:     shared,
		Jar:        jar,
		Cache:      cache,
		DataDir:    cfg.Paths.DataDir,
		CookieHost: cfg.Backend.CookieHost,
		ContextID:  contextID.String(),
		Logger:     logger,
	})

	breaker := authstate.NewBreaker(authstate.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		BaseTimeout:      cfg.Breaker.BaseTimeout,
		MaxBackoffFactor: cfg.Breaker.MaxBackoffFactor,
	})
	mgr := authstate.NewManager(authstate.ManagerConfig{
		Breaker:       breaker,
		NotifyWait:    cfg.Notify.Wait,
		NotifyMaxWait: cfg.Notify.MaxWait,
		Logger:        logger,
	})
	defer mgr.Close()

	gate := admission.NewGate(admission.Config{
		MinInterval: cfg.Admission.MinInterval,
		Window:      cfg.Admission.Window,
		WindowLimit: cfg.Admission.WindowLimit,
	}, breaker)

	check := checker.NewHTTPChecker(cfg.Backend.SessionURL, nil)

	unsubscribe := mgr.Subscribe(func(s authstate.State) {
		logger.Info("auth state changed",
			"authenticated", s.Authenticated,
			"source", s.Source,
			"loading", s.Loading,
			"error", s.Err,
		)
	})
	defer unsubscribe()

	// Warm start from the identity cache, unless a logout marker says a
	// sibling just logged out and the cached identity is about to vanish.
	if cache != nil && !cleaner.IsInLogoutState() {
		if user, loadErr := cache.Load(ctx); loadErr != nil {
			errutil.LogError(logger, "failed to load cached identity", loadErr)
		} else if user != nil {
			mgr.UpdateFromCache(user)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	checkNow := make(chan struct{}, 1)
	requestCheck := func() {
		select {
		case checkNow <- struct{}{}:
		default:
		}
	}

	// The broadcast channel is best-effort: when the broker is down we keep
	// a nil channel and rely on the shared-storage change feed alone.
	var bcast *channel.Channel
	if cfg.Redis.Addr != "" {
		bcast, err = channel.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Channel, contextID, logger)
		if err != nil {
			errutil.LogError(logger, "broadcast channel unavailable, relying on shared storage", err)
			bcast = nil
		}
	}
	defer bcast.Close()

	agent := &agentLoop{
		cfg:     cfg,
		logger:  logger,
		mgr:     mgr,
		gate:    gate,
		check:   check,
		cleaner: cleaner,
		shared:  shared,
		cache:   cache,
		bcast:   bcast,
	}

	bcast.Listen(func(msg channel.Message) {
		switch msg.Kind {
		case channel.KindLogin:
			logger.Info("sibling logged in", "sender", msg.ContextID)
			// Stale rate-limit history must not delay picking up the new
			// session.
			gate.ResetHistory()
			cleaner.ClearLogoutState()
			requestCheck()
		case channel.KindLogout:
			logger.Info("sibling logged out", "sender", msg.ContextID)
			agent.applyRemoteLogout(ctx)
		default:
			logger.Warn("ignoring unknown cross-context event", "kind", msg.Kind)
		}
	})

	// The storage change feed catches logouts even when the broker is down
	// or the sibling died before broadcasting.
	stopMonitor, err := cleaner.SetupAuthStateMonitor(func() {
		mgr.Reset()
	})
	if err != nil {
		errutil.LogError(logger, "shared storage monitor unavailable", err)
	} else {
		defer stopMonitor()
	}

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return fmt.Errorf("failed to start observability server: %w", obsErr)
		}
		go func() {
			if serveErr, ok := <-obsErrChan; ok && serveErr != nil {
				slog.Error("observability server failed", "error", serveErr)
				cancel()
			}
		}()
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("AuthPulse agent started")
	slog.Info("agent ready", "context_id", contextID.String())

	requestCheck()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			break loop
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down")
			break loop
		case <-checkNow:
			agent.checkOnce(ctx)
		case <-ticker.C:
			agent.checkOnce(ctx)
		}
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	// Subscribers see the final state before we go.
	mgr.FlushChanges()

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// agentLoop holds the wired subsystems the run loop operates on.
type agentLoop struct {
	cfg     *config.Config
	logger  *slog.Logger
	mgr     *authstate.Manager
	gate    *admission.Gate
	check   checker.Checker
	cleaner *persist.Cleaner
	shared  *persist.FileStore
	cache   *persist.IdentityCache
	bcast   *channel.Channel
}

// checkOnce runs a single gated session check and applies the outcome.
func (a *agentLoop) checkOnce(ctx context.Context) {
	// A fresh logout, ours or a sibling's, suppresses checks until the
	// marker window lapses so the transition settles before the next probe.
	if a.cleaner.IsInLogoutState() {
		return
	}
	if !a.gate.CanProceed() {
		return
	}
	a.gate.RecordQuery()

	wasAuthenticated := a.mgr.GetState().Authenticated

	a.mgr.SetLoading()
	user, err := a.check.Check(ctx)
	if err != nil {
		a.mgr.RecordFailure(err)
		if authstate.IsUnauthenticated(err) && wasAuthenticated {
			a.applyLocalLogout(ctx)
		}
		return
	}

	a.mgr.RecordSuccess(*user, authstate.SourceNetwork)
	a.cleaner.ClearLogoutState()

	// The monitored key is what siblings watch; writing it after a verified
	// session is how this context participates in cross-context detection.
	if setErr := a.shared.Set(persist.MonitoredKey, user.ID); setErr != nil {
		errutil.LogError(a.logger, "failed to record session in shared storage", setErr)
	}
	if a.cache != nil {
		if saveErr := a.cache.Save(ctx, *user); saveErr != nil {
			errutil.LogError(a.logger, "failed to persist identity cache", saveErr)
		}
	}

	if !wasAuthenticated {
		if pubErr := a.bcast.Publish(ctx, channel.KindLogin); pubErr != nil {
			errutil.LogError(a.logger, "failed to broadcast login", pubErr)
		}
	}
}

// applyLocalLogout runs when the backend reports the session gone while we
// believed it live: clear every tier and tell the siblings.
func (a *agentLoop) applyLocalLogout(ctx context.Context) {
	a.logger.Info("session ended by backend, clearing auth data")
	a.cleaner.ClearAllAuthData(ctx)
	a.cleaner.MarkLogoutState()
	if pubErr := a.bcast.Publish(ctx, channel.KindLogout); pubErr != nil {
		errutil.LogError(a.logger, "failed to broadcast logout", pubErr)
	}
}

// applyRemoteLogout runs when a sibling announces logout over the channel.
// The sibling already cleared the shared tiers; this context still owns its
// memory tier and in-memory state.
func (a *agentLoop) applyRemoteLogout(ctx context.Context) {
	a.cleaner.ClearAllAuthData(ctx)
	a.cleaner.MarkLogoutState()
	a.mgr.Reset()
}
