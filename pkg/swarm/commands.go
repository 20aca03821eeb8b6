package swarm

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/address"
)

var circuit = multiaddr.StringCast("/p2p-circuit")

// listener is an address opened with Listen.
type listener struct {
	addr    multiaddr.Multiaddr
	circuit bool
}

// Listen starts listening on addr. A circuit address (relay/p2p-circuit)
// requests a reservation at the relay instead of opening a socket; the
// outcome arrives as a RelayEvent.
func (s *Swarm) Listen(addr multiaddr.Multiaddr) (ListenerID, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}

	id := ListenerID(s.nextListener.Add(1))
	l := &listener{addr: addr, circuit: address.IsCircuit(addr)}

	if l.circuit {
		relay, err := address.Relay(addr)
		if err != nil {
			return 0, err
		}
		s.host.Peerstore().AddAddrs(relay.ID, relay.Addrs, peerstore.TempAddrTTL)

		s.listenMu.Lock()
		s.listeners[id] = l
		s.listenMu.Unlock()

		s.relay.start(id, relay)
		return id, nil
	}

	if err := s.host.Network().Listen(addr); err != nil {
		return 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listenMu.Lock()
	s.listeners[id] = l
	s.listenMu.Unlock()

	return id, nil
}

// RemoveListener stops the listener id. For circuit listeners this stops
// renewing the reservation and withdraws its addresses.
func (s *Swarm) RemoveListener(id ListenerID) error {
	s.listenMu.Lock()
	l, ok := s.listeners[id]
	delete(s.listeners, id)
	s.listenMu.Unlock()

	if !ok {
		return ErrUnknownListener
	}

	if l.circuit {
		s.relay.stop(id)
		return nil
	}

	if closer, ok := s.host.Network().(interface {
		ListenClose(...multiaddr.Multiaddr)
	}); ok {
		closer.ListenClose(l.addr)
	}
	return nil
}

// Reservations returns the number of accepted relay reservations.
func (s *Swarm) Reservations() int {
	return s.relay.count()
}

// Dial connects to addr in the background. Failures are reported as
// NetworkEvent{Kind: DialFailed}; success shows up as ConnectionEstablished
// and, for relayed routes, RelayEvent{Kind: CircuitEstablished}.
//
// An address without a trailing peer component is resolved with an
// identity probe first. A circuit address must name its target.
func (s *Swarm) Dial(addr multiaddr.Multiaddr) error {
	if s.isClosed() {
		return ErrClosed
	}

	id, hasPeer := address.PeerID(addr)
	if !hasPeer && address.IsCircuit(addr) {
		return fmt.Errorf("%w: circuit dial needs a target: %s", address.ErrNoPeerID, addr)
	}

	var info peer.AddrInfo
	if hasPeer {
		ai, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return fmt.Errorf("invalid dial address %s: %w", addr, err)
		}
		info = *ai
	}

	if !s.spawn(func() { s.dial(addr, id, info) }) {
		return ErrClosed
	}
	return nil
}

func (s *Swarm) dial(addr multiaddr.Multiaddr, id peer.ID, info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	defer cancel()

	if id == "" {
		probed, err := s.prober.probe(ctx, addr)
		if err != nil {
			s.dialFailed(addr, "", err)
			return
		}
		id = probed
		info = peer.AddrInfo{ID: probed, Addrs: []multiaddr.Multiaddr{addr}}
	}

	if err := s.host.Connect(ctx, info); err != nil {
		s.dialFailed(addr, id, err)
	}
}

func (s *Swarm) dialFailed(addr multiaddr.Multiaddr, id peer.ID, err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.cfg.Logger.Debug("dial failed", "addr", addr, "peer", id, "error", err)
	s.publish(NetworkEvent{Kind: DialFailed, Peer: id, Addr: addr, Err: err})
}

// Discover requests all registrations known to the rendezvous node.
// The result arrives as RendezvousEvent Discovered or DiscoverFailed.
func (s *Swarm) Discover(node peer.ID) error {
	if !s.spawn(func() { s.rendezvous.discover(node) }) {
		return ErrClosed
	}
	return nil
}

// Register registers this node under ns at the rendezvous node and keeps
// the registration refreshed. Results arrive as RendezvousEvent Registered
// or RegisterFailed.
func (s *Swarm) Register(node peer.ID, ns string) error {
	if !s.spawn(func() { s.rendezvous.register(node, ns) }) {
		return ErrClosed
	}
	return nil
}
