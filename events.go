package oru

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/connection"
)

// Phase is the position of a live connection in its discovery cycle.
// This is re-exported from the connection package for public API.
type Phase = connection.Phase

// Re-exported phases.
const (
	PhaseIdle                   = connection.PhaseIdle
	PhaseDiscoveryRequested     = connection.PhaseDiscoveryRequested
	PhaseSelfBootstrapping      = connection.PhaseSelfBootstrapping
	PhaseSelfRegistering        = connection.PhaseSelfRegistering
	PhaseDialingDiscoveredPeers = connection.PhaseDialingDiscoveredPeers
)

// StatusKind classifies a StatusEvent.
type StatusKind int

const (
	// StatusBootstrapped is emitted when Connect learned the introducer's
	// identity and our public address. Addr is the public address.
	StatusBootstrapped StatusKind = iota

	// StatusPhaseChanged is emitted on every phase transition.
	StatusPhaseChanged

	// StatusReservationAccepted is emitted when the relay granted a slot.
	StatusReservationAccepted

	// StatusReservationFailed is emitted when the relay refused a slot.
	StatusReservationFailed

	// StatusRegistered is emitted when the rendezvous registration succeeded.
	StatusRegistered

	// StatusPeerDialed is emitted for every discovered peer a dial was
	// issued to. PeerID names the peer.
	StatusPeerDialed

	// StatusFailed is emitted when Handle returns a fatal error.
	StatusFailed
)

// String returns a human-readable representation of the kind.
func (k StatusKind) String() string {
	switch k {
	case StatusBootstrapped:
		return "Bootstrapped"
	case StatusPhaseChanged:
		return "PhaseChanged"
	case StatusReservationAccepted:
		return "ReservationAccepted"
	case StatusReservationFailed:
		return "ReservationFailed"
	case StatusRegistered:
		return "Registered"
	case StatusPeerDialed:
		return "PeerDialed"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("StatusKind(%d)", k)
	}
}

// StatusEvent reports progress of the node to the application.
// Delivery is best-effort: events are dropped when the consumer falls
// behind.
type StatusEvent struct {
	Kind StatusKind

	// Phase is the connection phase after the event.
	Phase Phase

	// PeerID is the peer the event relates to, if any.
	PeerID peer.ID

	// Addr is an address the event relates to, if any.
	Addr multiaddr.Multiaddr

	// Error contains error information if this event represents a failure.
	Error error

	// Timestamp is when this event occurred.
	Timestamp time.Time
}

// IsError returns true if this event represents an error condition.
func (e StatusEvent) IsError() bool {
	return e.Error != nil
}
