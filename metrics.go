package oru

// Metrics defines the metrics collection interface for oru.
// It is designed to be compatible with Prometheus and other metrics systems.
//
// Implementations must be safe for concurrent use.
type Metrics interface {
	// ConnectAttempt records the result of a Connect call.
	// Labels: result (success, failure)
	ConnectAttempt(result string)

	// AddressExchangeDuration records how long the introducer took to
	// confirm both directions of the address exchange.
	AddressExchangeDuration(seconds float64)

	// ReservationResult records a relay reservation outcome.
	// Labels: result (accepted, renewed, failed)
	ReservationResult(result string)

	// RegistrationResult records a rendezvous registration outcome.
	// Labels: result (registered, renewed, failed)
	RegistrationResult(result string)

	// DiscoveryResult records a discovery round and the number of
	// registrations it returned.
	// Labels: result (success, failure)
	DiscoveryResult(result string, registrations int)

	// DialResult records what happened to one discovered peer.
	// Labels: result (issued, skipped, failed)
	DialResult(result string)

	// HolePunchResult records the end of a hole punch.
	// Labels: result (success, failure)
	HolePunchResult(result string)

	// EventReceived records an event read from the protocol multiplexer.
	// Labels: source (network, identify, relay, holepunch, rendezvous)
	EventReceived(source string)

	// PhaseChanged records a connection entering a phase.
	PhaseChanged(phase string)

	// StatusEventDropped records a status event dropped due to buffer full.
	StatusEventDropped()
}

// NopMetrics is a no-op metrics implementation that discards all metrics.
// It is the default when no metrics collector is configured.
type NopMetrics struct{}

// Ensure NopMetrics implements Metrics.
var _ Metrics = NopMetrics{}

// ConnectAttempt implements Metrics.ConnectAttempt (no-op).
func (NopMetrics) ConnectAttempt(result string) {}

// AddressExchangeDuration implements Metrics.AddressExchangeDuration (no-op).
func (NopMetrics) AddressExchangeDuration(seconds float64) {}

// ReservationResult implements Metrics.ReservationResult (no-op).
func (NopMetrics) ReservationResult(result string) {}

// RegistrationResult implements Metrics.RegistrationResult (no-op).
func (NopMetrics) RegistrationResult(result string) {}

// DiscoveryResult implements Metrics.DiscoveryResult (no-op).
func (NopMetrics) DiscoveryResult(result string, registrations int) {}

// DialResult implements Metrics.DialResult (no-op).
func (NopMetrics) DialResult(result string) {}

// HolePunchResult implements Metrics.HolePunchResult (no-op).
func (NopMetrics) HolePunchResult(result string) {}

// EventReceived implements Metrics.EventReceived (no-op).
func (NopMetrics) EventReceived(source string) {}

// PhaseChanged implements Metrics.PhaseChanged (no-op).
func (NopMetrics) PhaseChanged(phase string) {}

// StatusEventDropped implements Metrics.StatusEventDropped (no-op).
func (NopMetrics) StatusEventDropped() {}
