// Package metrics holds the Prometheus instrumentation for subscription flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records subscription transitions, webhook outcomes, gateway calls
// and entitlement decisions. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	entitlement     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paywall",
				Subsystem: "subscription",
				Name:      "transitions_total",
				Help:      "Persisted subscription transitions by source status, target status and trigger",
			},
			[]string{"from", "to", "trigger"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paywall",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook deliveries by event kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		gatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paywall",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Payment gateway calls by operation and result",
			},
			[]string{"op", "result"},
		),
		entitlement: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paywall",
				Subsystem: "entitlement",
				Name:      "decisions_total",
				Help:      "Entitlement checks by decision",
			},
			[]string{"decision"},
		),
	}
	reg.MustRegister(m.transitions, m.webhookEvents, m.gatewayRequests, m.entitlement)
	return m
}

func (m *Metrics) Transition(from, to, trigger string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, trigger).Inc()
}

func (m *Metrics) WebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// GatewayRequest records result "ok" or the gateway error cause.
func (m *Metrics) GatewayRequest(op, result string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(op, result).Inc()
}

func (m *Metrics) EntitlementDecision(decision string) {
	if m == nil {
		return
	}
	m.entitlement.WithLabelValues(decision).Inc()
}
