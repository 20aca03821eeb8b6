package oru

import (
	"fmt"
	"time"
)

// ReservationState is the state of the relay slot held through the
// rendezvous node.
type ReservationState int

const (
	// ReservationPending means no reservation outcome has been seen yet.
	ReservationPending ReservationState = iota

	// ReservationAccepted means the relay granted a slot.
	ReservationAccepted

	// ReservationFailed means the last request was refused.
	ReservationFailed
)

// String returns a human-readable representation of the state.
func (s ReservationState) String() string {
	switch s {
	case ReservationPending:
		return "Pending"
	case ReservationAccepted:
		return "Accepted"
	case ReservationFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ReservationState(%d)", s)
	}
}

// NodeStats is a point-in-time snapshot of node activity.
// All fields are copies and safe to read without synchronization.
type NodeStats struct {
	// Phase is the current connection phase.
	Phase Phase

	// Uptime is the time since the node was created.
	Uptime time.Duration

	// BootstrappedAt is when Connect last completed. Zero before that.
	BootstrappedAt time.Time

	// ConnectedPeers is the number of peers with an open connection.
	ConnectedPeers int

	// EventsReceived is the number of protocol events read from the loop.
	EventsReceived int64

	// DiscoveryRounds is the number of discovery results handled.
	DiscoveryRounds int

	// LastDiscovered is the registration count of the last discovery.
	LastDiscovered int

	// DialsIssued and DialsFailed count relayed dials to discovered peers.
	DialsIssued int
	DialsFailed int

	// HolePunchesSucceeded and HolePunchesFailed count finished hole punches.
	HolePunchesSucceeded int
	HolePunchesFailed    int

	// Reservation is the relay slot state; ReservationError is the last
	// refusal reason and ReservationExpiry the granted expiry.
	Reservation       ReservationState
	ReservationError  error
	ReservationExpiry time.Time
	Reservations      int
}

// nodeStats is the mutable counterpart of NodeStats, guarded by Node.mu.
type nodeStats struct {
	bootstrappedAt time.Time
	eventsReceived int64

	discoveryRounds int
	lastDiscovered  int

	dialsIssued int
	dialsFailed int

	holePunchesSucceeded int
	holePunchesFailed    int

	reservation       ReservationState
	reservationErr    error
	reservationExpiry time.Time
}

// Stats returns a snapshot of node activity.
func (n *Node) Stats() NodeStats {
	connected := n.loop.Connected()
	reservations := n.loop.Reservations()

	n.mu.RLock()
	defer n.mu.RUnlock()

	return NodeStats{
		Phase:                n.phase,
		Uptime:               n.config.Clock.Since(n.startedAt),
		BootstrappedAt:       n.stats.bootstrappedAt,
		ConnectedPeers:       connected,
		EventsReceived:       n.stats.eventsReceived,
		DiscoveryRounds:      n.stats.discoveryRounds,
		LastDiscovered:       n.stats.lastDiscovered,
		DialsIssued:          n.stats.dialsIssued,
		DialsFailed:          n.stats.dialsFailed,
		HolePunchesSucceeded: n.stats.holePunchesSucceeded,
		HolePunchesFailed:    n.stats.holePunchesFailed,
		Reservation:          n.stats.reservation,
		ReservationError:     n.stats.reservationErr,
		ReservationExpiry:    n.stats.reservationExpiry,
		Reservations:         reservations,
	}
}
