package swarm

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Source identifies which capability produced an event.
type Source int

const (
	// SourceNetwork tags transport-level events (connections, listeners, dials).
	SourceNetwork Source = iota

	// SourceIdentify tags address-exchange events.
	SourceIdentify

	// SourceRelay tags relay client events.
	SourceRelay

	// SourceHolePunch tags direct connection upgrade events.
	SourceHolePunch

	// SourceRendezvous tags rendezvous client events.
	SourceRendezvous
)

// String returns a human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceIdentify:
		return "identify"
	case SourceRelay:
		return "relay"
	case SourceHolePunch:
		return "holepunch"
	case SourceRendezvous:
		return "rendezvous"
	default:
		return fmt.Sprintf("Source(%d)", s)
	}
}

// Event is one entry of the merged event stream. The set of implementations
// is closed: IdentifyEvent, RelayEvent, HolePunchEvent, RendezvousEvent and
// NetworkEvent.
type Event interface {
	// Source returns the capability that produced the event.
	Source() Source

	// String returns a one-line description for logging.
	String() string

	event()
}

// IdentifyKind distinguishes address-exchange events.
type IdentifyKind int

const (
	// IdentifySent reports that our identify record reached the peer.
	IdentifySent IdentifyKind = iota

	// IdentifyReceived reports that the peer's identify record arrived,
	// including the address the peer observed us at.
	IdentifyReceived

	// IdentifyError reports a failed identify exchange.
	IdentifyError
)

// String returns a human-readable name for the kind.
func (k IdentifyKind) String() string {
	switch k {
	case IdentifySent:
		return "Sent"
	case IdentifyReceived:
		return "Received"
	case IdentifyError:
		return "Error"
	default:
		return fmt.Sprintf("IdentifyKind(%d)", k)
	}
}

// IdentifyEvent is produced by the address-exchange capability.
type IdentifyEvent struct {
	Kind IdentifyKind
	Peer peer.ID

	// ObservedAddr is our address as seen by Peer (Received only).
	ObservedAddr multiaddr.Multiaddr

	// ListenAddrs are the addresses Peer announced (Received only).
	ListenAddrs []multiaddr.Multiaddr

	ProtocolVersion string
	AgentVersion    string

	Err error
}

// Source implements Event.
func (IdentifyEvent) Source() Source { return SourceIdentify }

func (e IdentifyEvent) String() string {
	switch e.Kind {
	case IdentifyReceived:
		return fmt.Sprintf("identify %s from %s (observed %v, protocol %q)", e.Kind, e.Peer, e.ObservedAddr, e.ProtocolVersion)
	case IdentifyError:
		return fmt.Sprintf("identify %s with %s: %v", e.Kind, e.Peer, e.Err)
	default:
		return fmt.Sprintf("identify %s to %s", e.Kind, e.Peer)
	}
}

func (IdentifyEvent) event() {}

// RelayKind distinguishes relay client events.
type RelayKind int

const (
	// ReservationAccepted reports a granted (or renewed) relay slot.
	ReservationAccepted RelayKind = iota

	// ReservationFailed reports a rejected or failed reservation request.
	ReservationFailed

	// CircuitEstablished reports a connection routed through a relay.
	CircuitEstablished
)

// String returns a human-readable name for the kind.
func (k RelayKind) String() string {
	switch k {
	case ReservationAccepted:
		return "ReservationAccepted"
	case ReservationFailed:
		return "ReservationFailed"
	case CircuitEstablished:
		return "CircuitEstablished"
	default:
		return fmt.Sprintf("RelayKind(%d)", k)
	}
}

// RelayEvent is produced by the relay client capability.
type RelayEvent struct {
	Kind  RelayKind
	Relay peer.ID

	// Peer is the remote end of an established circuit.
	Peer      peer.ID
	Direction network.Direction

	// Expiration and Addrs describe an accepted reservation.
	Expiration time.Time
	Addrs      []multiaddr.Multiaddr

	// Renewal is set when the event concerns a refresh of an existing slot.
	Renewal bool

	Err error
}

// Source implements Event.
func (RelayEvent) Source() Source { return SourceRelay }

func (e RelayEvent) String() string {
	switch e.Kind {
	case ReservationAccepted:
		return fmt.Sprintf("relay %s by %s until %s (renewal=%t)", e.Kind, e.Relay, e.Expiration.Format(time.RFC3339), e.Renewal)
	case ReservationFailed:
		return fmt.Sprintf("relay %s by %s: %v", e.Kind, e.Relay, e.Err)
	default:
		return fmt.Sprintf("relay %s with %s via %s (%s)", e.Kind, e.Peer, e.Relay, e.Direction)
	}
}

func (RelayEvent) event() {}

// HolePunchKind distinguishes direct connection upgrade events.
type HolePunchKind int

const (
	// HolePunchStarted reports the start of a hole punch with a peer.
	HolePunchStarted HolePunchKind = iota

	// HolePunchAttempt reports one simultaneous-open attempt.
	HolePunchAttempt

	// HolePunchFinished reports the end of a hole punch; see Success.
	HolePunchFinished

	// DirectDial reports a plain direct dial tried before punching.
	DirectDial

	// HolePunchProtocolError reports a protocol violation by the peer.
	HolePunchProtocolError

	// HolePunchOther covers tracer events without a dedicated kind.
	HolePunchOther
)

// String returns a human-readable name for the kind.
func (k HolePunchKind) String() string {
	switch k {
	case HolePunchStarted:
		return "Started"
	case HolePunchAttempt:
		return "Attempt"
	case HolePunchFinished:
		return "Finished"
	case DirectDial:
		return "DirectDial"
	case HolePunchProtocolError:
		return "ProtocolError"
	case HolePunchOther:
		return "Other"
	default:
		return fmt.Sprintf("HolePunchKind(%d)", k)
	}
}

// HolePunchEvent is produced by the hole punching capability. It is
// informational only.
type HolePunchEvent struct {
	Kind    HolePunchKind
	Peer    peer.ID
	Success bool
	Elapsed time.Duration
	Attempt int
	Err     string
}

// Source implements Event.
func (HolePunchEvent) Source() Source { return SourceHolePunch }

func (e HolePunchEvent) String() string {
	switch e.Kind {
	case HolePunchFinished, DirectDial:
		if e.Success {
			return fmt.Sprintf("holepunch %s with %s succeeded in %s", e.Kind, e.Peer, e.Elapsed)
		}
		return fmt.Sprintf("holepunch %s with %s failed after %s: %s", e.Kind, e.Peer, e.Elapsed, e.Err)
	case HolePunchAttempt:
		return fmt.Sprintf("holepunch %s #%d with %s", e.Kind, e.Attempt, e.Peer)
	case HolePunchProtocolError:
		return fmt.Sprintf("holepunch %s with %s: %s", e.Kind, e.Peer, e.Err)
	default:
		return fmt.Sprintf("holepunch %s with %s", e.Kind, e.Peer)
	}
}

func (HolePunchEvent) event() {}

// RendezvousKind distinguishes rendezvous client events.
type RendezvousKind int

const (
	// Discovered carries the registrations returned by a discovery request.
	Discovered RendezvousKind = iota

	// DiscoverFailed reports a failed discovery request.
	DiscoverFailed

	// Registered reports a successful (or refreshed) registration.
	Registered

	// RegisterFailed reports a failed registration.
	RegisterFailed
)

// String returns a human-readable name for the kind.
func (k RendezvousKind) String() string {
	switch k {
	case Discovered:
		return "Discovered"
	case DiscoverFailed:
		return "DiscoverFailed"
	case Registered:
		return "Registered"
	case RegisterFailed:
		return "RegisterFailed"
	default:
		return fmt.Sprintf("RendezvousKind(%d)", k)
	}
}

// Registration is one peer record returned by discovery.
type Registration struct {
	Peer      peer.ID
	Addrs     []multiaddr.Multiaddr
	Namespace string
	TTL       time.Duration
}

// RendezvousEvent is produced by the rendezvous client capability.
type RendezvousEvent struct {
	Kind           RendezvousKind
	RendezvousNode peer.ID
	Namespace      string

	// Registrations and Cookie are set for Discovered.
	Registrations []Registration
	Cookie        []byte

	// TTL is the granted registration lifetime (Registered only).
	TTL     time.Duration
	Renewal bool

	Err error
}

// Source implements Event.
func (RendezvousEvent) Source() Source { return SourceRendezvous }

func (e RendezvousEvent) String() string {
	switch e.Kind {
	case Discovered:
		return fmt.Sprintf("rendezvous %s %d registrations at %s", e.Kind, len(e.Registrations), e.RendezvousNode)
	case Registered:
		return fmt.Sprintf("rendezvous %s in %q at %s for %s (renewal=%t)", e.Kind, e.Namespace, e.RendezvousNode, e.TTL, e.Renewal)
	default:
		return fmt.Sprintf("rendezvous %s at %s: %v", e.Kind, e.RendezvousNode, e.Err)
	}
}

func (RendezvousEvent) event() {}

// NetworkKind distinguishes transport-level events.
type NetworkKind int

const (
	// ConnectionEstablished reports a new connection to a peer.
	ConnectionEstablished NetworkKind = iota

	// ConnectionClosed reports a closed connection.
	ConnectionClosed

	// NewListenAddr reports an address the node started listening on.
	NewListenAddr

	// ListenerClosed reports an address the node stopped listening on.
	ListenerClosed

	// DialFailed reports an outbound dial that did not produce a connection.
	DialFailed
)

// String returns a human-readable name for the kind.
func (k NetworkKind) String() string {
	switch k {
	case ConnectionEstablished:
		return "ConnectionEstablished"
	case ConnectionClosed:
		return "ConnectionClosed"
	case NewListenAddr:
		return "NewListenAddr"
	case ListenerClosed:
		return "ListenerClosed"
	case DialFailed:
		return "DialFailed"
	default:
		return fmt.Sprintf("NetworkKind(%d)", k)
	}
}

// NetworkEvent is produced by the transport stack. The orchestration only
// logs these.
type NetworkEvent struct {
	Kind      NetworkKind
	Peer      peer.ID
	Addr      multiaddr.Multiaddr
	Direction network.Direction
	Err       error
}

// Source implements Event.
func (NetworkEvent) Source() Source { return SourceNetwork }

func (e NetworkEvent) String() string {
	switch e.Kind {
	case NewListenAddr, ListenerClosed:
		return fmt.Sprintf("network %s %v", e.Kind, e.Addr)
	case DialFailed:
		return fmt.Sprintf("network %s %s at %v: %v", e.Kind, e.Peer, e.Addr, e.Err)
	default:
		return fmt.Sprintf("network %s %s at %v (%s)", e.Kind, e.Peer, e.Addr, e.Direction)
	}
}

func (NetworkEvent) event() {}
