// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package admission

import "github.com/prometheus/client_golang/prometheus"

// Admissions counts gate decisions by result and denial reason.
// Use RegisterMetrics to register this with a Prometheus registry.
var Admissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authpulse_admissions_total",
		Help: "Total number of admission gate decisions",
	},
	[]string{"result", "reason"},
)

// RegisterMetrics registers admission package metrics with the given
// Prometheus registry. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Admissions)
}

func recordAdmission(allowed bool, reason string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	Admissions.WithLabelValues(result, reason).Inc()
}
