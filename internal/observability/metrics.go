// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/gatehouse/internal/events"
)

// GateMetrics are the Prometheus instruments for the login gate.
type GateMetrics struct {
	Authentications *prometheus.CounterVec
	WrongAttempts   *prometheus.CounterVec
	DialogsSent     *prometheus.CounterVec
	Routes          *prometheus.CounterVec
	PendingRoutes   prometheus.Gauge
}

// NewGateMetrics creates the gate instruments and registers them with reg.
func NewGateMetrics(reg prometheus.Registerer) *GateMetrics {
	m := &GateMetrics{
		Authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authentications_total",
				Help: "Players authenticated, by reason",
			},
			[]string{"reason"},
		),
		WrongAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_wrong_attempts_total",
				Help: "Rejected credential submissions, by source",
			},
			[]string{"source"},
		),
		DialogsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_dialogs_sent_total",
				Help: "Credential dialogs shown, by mode",
			},
			[]string{"mode"},
		),
		Routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_routes_total",
				Help: "Routing decisions, by outcome",
			},
			[]string{"outcome"},
		),
		PendingRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatehouse_pending_routes",
			Help: "Initial routes waiting for a dialog answer",
		}),
	}

	reg.MustRegister(m.Authentications, m.WrongAttempts, m.DialogsSent, m.Routes, m.PendingRoutes)
	return m
}

// Subscribe counts authentication events published on bus.
func (m *GateMetrics) Subscribe(bus *events.Bus) {
	bus.OnAuthenticated(func(e events.Authenticated) {
		m.Authentications.WithLabelValues(e.Reason.String()).Inc()
	})
	bus.OnWrongPassword(func(e events.WrongPassword) {
		m.WrongAttempts.WithLabelValues(e.Source.String()).Inc()
	})
}

// DialogSent counts a dialog shown in mode.
func (m *GateMetrics) DialogSent(mode string) {
	m.DialogsSent.WithLabelValues(mode).Inc()
}

// RouteResolved counts a routing outcome.
func (m *GateMetrics) RouteResolved(outcome string) {
	m.Routes.WithLabelValues(outcome).Inc()
}

// SetPendingRoutes records the number of suspended routes.
func (m *GateMetrics) SetPendingRoutes(n int) {
	m.PendingRoutes.Set(float64(n))
}
