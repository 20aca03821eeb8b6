// Package prometheus provides a Prometheus implementation of the oru.Metrics interface.
//
// # Metric Names
//
// All metrics use the configured namespace prefix (default: "oru").
//
// # Counters
//
//	oru_connect_attempts_total{result="success|failure"}
//	oru_reservations_total{result="accepted|renewed|failed"}
//	oru_registrations_total{result="registered|renewed|failed"}
//	oru_discoveries_total{result="success|failure"}
//	oru_discovered_registrations_total
//	oru_dials_total{result="issued|skipped|failed"}
//	oru_hole_punches_total{result="success|failure"}
//	oru_events_received_total{source="<source>"}
//	oru_phase_transitions_total{phase="<phase>"}
//	oru_status_events_dropped_total
//
// # Histograms
//
//	oru_address_exchange_duration_seconds
//
// # Example Usage
//
//	metrics := prommetrics.NewMetrics("")
//	node, err := oru.New(oru.NewConfig(oru.WithMetrics(metrics)))
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Great1ng/oru"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "oru"

// Metrics implements the oru.Metrics interface using Prometheus metrics.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	connectAttempts         *prometheus.CounterVec
	addressExchangeDuration prometheus.Histogram

	reservations            *prometheus.CounterVec
	registrations           *prometheus.CounterVec
	discoveries             *prometheus.CounterVec
	discoveredRegistrations prometheus.Counter
	dials                   *prometheus.CounterVec
	holePunches             *prometheus.CounterVec

	eventsReceived      *prometheus.CounterVec
	phaseTransitions    *prometheus.CounterVec
	statusEventsDropped prometheus.Counter
}

// Ensure Metrics implements oru.Metrics.
var _ oru.Metrics = (*Metrics)(nil)

// NewMetrics creates a new Prometheus metrics collector with the given namespace,
// registered with the default registry. It panics if the metrics are
// already registered; use NewMetricsWithRegisterer to avoid that.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Prometheus metrics collector with the given
// namespace and registerer.
//
// If namespace is empty, DefaultNamespace ("oru") is used.
// If registerer is nil, metrics will not be registered automatically.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
			[]string{label},
		)
	}

	m := &Metrics{
		connectAttempts: counterVec("connect_attempts_total",
			"Total number of Connect calls by result", "result"),
		addressExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "address_exchange_duration_seconds",
				Help:      "Histogram of introducer address exchange durations",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		reservations: counterVec("reservations_total",
			"Total number of relay reservation outcomes", "result"),
		registrations: counterVec("registrations_total",
			"Total number of rendezvous registration outcomes", "result"),
		discoveries: counterVec("discoveries_total",
			"Total number of discovery rounds by result", "result"),
		discoveredRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_registrations_total",
			Help:      "Total number of registrations returned by discovery",
		}),
		dials: counterVec("dials_total",
			"Total number of discovered peers by dial result", "result"),
		holePunches: counterVec("hole_punches_total",
			"Total number of finished hole punches by result", "result"),
		eventsReceived: counterVec("events_received_total",
			"Total number of protocol events read by source", "source"),
		phaseTransitions: counterVec("phase_transitions_total",
			"Total number of connection phase transitions by target phase", "phase"),
		statusEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_dropped_total",
			Help:      "Total number of status events dropped due to buffer full",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.connectAttempts,
			m.addressExchangeDuration,
			m.reservations,
			m.registrations,
			m.discoveries,
			m.discoveredRegistrations,
			m.dials,
			m.holePunches,
			m.eventsReceived,
			m.phaseTransitions,
			m.statusEventsDropped,
		)
	}

	return m
}

// ConnectAttempt implements oru.Metrics.
func (m *Metrics) ConnectAttempt(result string) {
	m.connectAttempts.WithLabelValues(result).Inc()
}

// AddressExchangeDuration implements oru.Metrics.
func (m *Metrics) AddressExchangeDuration(seconds float64) {
	m.addressExchangeDuration.Observe(seconds)
}

// ReservationResult implements oru.Metrics.
func (m *Metrics) ReservationResult(result string) {
	m.reservations.WithLabelValues(result).Inc()
}

// RegistrationResult implements oru.Metrics.
func (m *Metrics) RegistrationResult(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

// DiscoveryResult implements oru.Metrics.
func (m *Metrics) DiscoveryResult(result string, registrations int) {
	m.discoveries.WithLabelValues(result).Inc()
	m.discoveredRegistrations.Add(float64(registrations))
}

// DialResult implements oru.Metrics.
func (m *Metrics) DialResult(result string) {
	m.dials.WithLabelValues(result).Inc()
}

// HolePunchResult implements oru.Metrics.
func (m *Metrics) HolePunchResult(result string) {
	m.holePunches.WithLabelValues(result).Inc()
}

// EventReceived implements oru.Metrics.
func (m *Metrics) EventReceived(source string) {
	m.eventsReceived.WithLabelValues(source).Inc()
}

// PhaseChanged implements oru.Metrics.
func (m *Metrics) PhaseChanged(phase string) {
	m.phaseTransitions.WithLabelValues(phase).Inc()
}

// StatusEventDropped implements oru.Metrics.
func (m *Metrics) StatusEventDropped() {
	m.statusEventsDropped.Inc()
}
