// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package authstate

import "github.com/prometheus/client_golang/prometheus"

// BreakerTransitions counts circuit breaker phase transitions.
// Use RegisterMetrics to register this with a Prometheus registry.
var BreakerTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authpulse_breaker_transitions_total",
		Help: "Total number of circuit breaker phase transitions",
	},
	[]string{"phase"},
)

// BreakerPhaseGauge exposes the current breaker phase as a one-hot gauge.
// Use RegisterMetrics to register this with a Prometheus registry.
var BreakerPhaseGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "authpulse_breaker_phase",
		Help: "Current circuit breaker phase (1 for the active phase)",
	},
	[]string{"phase"},
)

// NotificationsDelivered counts debounced subscriber deliveries.
// Use RegisterMetrics to register this with a Prometheus registry.
var NotificationsDelivered = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "authpulse_notifications_delivered_total",
		Help: "Total number of debounced state notifications delivered",
	},
)

// NotifiedListeners counts individual listener invocations.
// Use RegisterMetrics to register this with a Prometheus registry.
var NotifiedListeners = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "authpulse_notified_listeners_total",
		Help: "Total number of listener invocations across deliveries",
	},
)

// RegisterMetrics registers authstate package metrics with the given
// Prometheus registry. Panics if registration fails (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(BreakerTransitions)
	reg.MustRegister(BreakerPhaseGauge)
	reg.MustRegister(NotificationsDelivered)
	reg.MustRegister(NotifiedListeners)

	// A labeled gauge exposes no series until first set; seed the one-hot
	// so scrapes before any transition still report the phase. Breakers
	// start closed.
	setBreakerPhaseGauge(BreakerClosed)
}

func recordBreakerPhase(phase BreakerPhase) {
	BreakerTransitions.WithLabelValues(string(phase)).Inc()
	setBreakerPhaseGauge(phase)
}

func setBreakerPhaseGauge(phase BreakerPhase) {
	for _, p := range []BreakerPhase{BreakerClosed, BreakerOpen, BreakerHalfOpen} {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		BreakerPhaseGauge.WithLabelValues(string(p)).Set(v)
	}
}

func recordNotification(listeners int) {
	NotificationsDelivered.Inc()
	NotifiedListeners.Add(float64(listeners))
}
