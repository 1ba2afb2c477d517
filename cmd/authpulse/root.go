// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the AuthPulse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authpulse",
		Short: "AuthPulse - client-side authentication resilience agent",
		Long: `AuthPulse keeps a client process's view of its backend session
consistent and well-behaved: session checks are rate limited, backend faults
trip a circuit breaker with capped exponential backoff, and login/logout
events propagate to sibling processes on the same machine.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewLogoutCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
