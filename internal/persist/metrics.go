// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package persist

import "github.com/prometheus/client_golang/prometheus"

// Persistence tier labels for cleanup metrics.
const (
	tierMemory   = "memory"
	tierShared   = "shared"
	tierCookie   = "cookie"
	tierDatabase = "database"
)

// CleanupRemovals counts auth artifacts evicted per tier.
// Use RegisterMetrics to register this with a Prometheus registry.
var CleanupRemovals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authpulse_cleanup_removals_total",
		Help: "Total number of auth artifacts removed during cleanup, by tier",
	},
	[]string{"tier"},
)

// CleanupFailures counts swallowed cleanup faults per tier.
// Use RegisterMetrics to register this with a Prometheus registry.
var CleanupFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authpulse_cleanup_failures_total",
		Help: "Total number of cleanup faults that were logged and swallowed, by tier",
	},
	[]string{"tier"},
)

// RegisterMetrics registers persist package metrics with the given
// Prometheus registry. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CleanupRemovals)
	reg.MustRegister(CleanupFailures)
}

func recordCleanupRemoval(tier string) {
	CleanupRemovals.WithLabelValues(tier).Inc()
}

func recordCleanupFailure(tier string) {
	CleanupFailures.WithLabelValues(tier).Inc()
}
