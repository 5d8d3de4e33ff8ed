// Package metrics exposes prometheus collectors for admission decisions and security events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatekeeper"

// Collectors is nil-safe: every method is a no-op on a nil receiver.
type Collectors struct {
	Decisions      *prometheus.CounterVec
	StoreErrors    prometheus.Counter
	SecurityEvents *prometheus.CounterVec
	AuditFailures  prometheus.Counter
	StoreCircuit   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Admission decisions by result and algorithm",
			},
			[]string{"result", "algorithm"},
		),
		StoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_store_errors_total",
				Help:      "Backing store failures seen by the gate",
			},
		),
		SecurityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "security_events_total",
				Help:      "Security events by severity",
			},
			[]string{"severity"},
		),
		AuditFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit rows that could not be written",
			},
		),
		StoreCircuit: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ratelimit_store_circuit_state",
				Help:      "Store circuit breaker state: 0 closed, 1 open, 2 half-open",
			},
		),
	}
}

// result is one of "allowed", "denied", "blocked", "skipped", "store_error"
func (c *Collectors) ObserveDecision(result, algorithm string) {
	if c == nil {
		return
	}
	c.Decisions.WithLabelValues(result, algorithm).Inc()
}

func (c *Collectors) ObserveStoreError() {
	if c == nil {
		return
	}
	c.StoreErrors.Inc()
}

func (c *Collectors) ObserveSecurityEvent(severity string) {
	if c == nil {
		return
	}
	c.SecurityEvents.WithLabelValues(severity).Inc()
}

func (c *Collectors) ObserveAuditFailure() {
	if c == nil {
		return
	}
	c.AuditFailures.Inc()
}

func (c *Collectors) ObserveStoreCircuit(state int) {
	if c == nil {
		return
	}
	c.StoreCircuit.Set(float64(state))
}
