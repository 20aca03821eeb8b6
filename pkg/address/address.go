// Package address builds and inspects the multiaddr routes the node uses:
// local listen addresses, peer-qualified introducer routes and relayed
// circuit routes.
package address

import (
	"errors"
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

var (
	// ErrEmptyAddress indicates an empty address string.
	ErrEmptyAddress = errors.New("empty address")

	// ErrPeerMismatch indicates an address already names a different peer.
	ErrPeerMismatch = errors.New("address names a different peer")

	// ErrNotCircuit indicates an address has no relay circuit component.
	ErrNotCircuit = errors.New("address is not a relay circuit")

	// ErrNoPeerID indicates an address has no trailing peer component.
	ErrNoPeerID = errors.New("address has no peer id")
)

var circuit = multiaddr.StringCast("/p2p-circuit")

// Parse parses s into a multiaddr.
func Parse(s string) (multiaddr.Multiaddr, error) {
	if s == "" {
		return nil, ErrEmptyAddress
	}
	addr, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// Canonical parses s and renders it back in canonical form.
func Canonical(s string) (string, error) {
	addr, err := Parse(s)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// LocalListen returns the TCP listen address for ip and port.
// A nil ip listens on all IPv4 interfaces and port 0 lets the OS choose.
func LocalListen(ip net.IP, port uint16) multiaddr.Multiaddr {
	if ip == nil {
		ip = net.IPv4zero
	}
	proto := "ip4"
	if ip.To4() == nil {
		proto = "ip6"
	}
	return multiaddr.StringCast(fmt.Sprintf("/%s/%s/tcp/%d", proto, ip.String(), port))
}

// PeerID returns the trailing peer component of addr.
func PeerID(addr multiaddr.Multiaddr) (peer.ID, bool) {
	_, id := peer.SplitAddr(addr)
	return id, id != ""
}

// WithPeer appends /p2p/<id> to addr. If addr already ends with a peer
// component it must name id, in which case addr is returned unchanged.
func WithPeer(addr multiaddr.Multiaddr, id peer.ID) (multiaddr.Multiaddr, error) {
	if existing, ok := PeerID(addr); ok {
		if existing != id {
			return nil, fmt.Errorf("%w: %s carries %s, remote is %s", ErrPeerMismatch, addr, existing, id)
		}
		return addr, nil
	}

	suffix, err := multiaddr.NewMultiaddr("/p2p/" + id.String())
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %s: %w", id, err)
	}
	return addr.Encapsulate(suffix), nil
}

// Circuit returns the relayed listen address through relay.
// relay is expected to carry the relay's peer component.
func Circuit(relay multiaddr.Multiaddr) multiaddr.Multiaddr {
	return relay.Encapsulate(circuit)
}

// CircuitTo returns the relayed dial address reaching target through relay.
func CircuitTo(relay multiaddr.Multiaddr, target peer.ID) (multiaddr.Multiaddr, error) {
	return WithPeer(Circuit(relay), target)
}

// IsCircuit reports whether addr routes through a relay.
func IsCircuit(addr multiaddr.Multiaddr) bool {
	_, err := addr.ValueForProtocol(multiaddr.P_CIRCUIT)
	return err == nil
}

// Relay returns the relay hop of a circuit address as an AddrInfo.
func Relay(addr multiaddr.Multiaddr) (peer.AddrInfo, error) {
	if !IsCircuit(addr) {
		return peer.AddrInfo{}, fmt.Errorf("%w: %s", ErrNotCircuit, addr)
	}

	relayAddr := addr.Decapsulate(circuit)
	info, err := peer.AddrInfoFromP2pAddr(relayAddr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: relay hop %s: %v", ErrNoPeerID, relayAddr, err)
	}
	return *info, nil
}

// Split separates addr into its transport part and trailing peer id.
func Split(addr multiaddr.Multiaddr) (multiaddr.Multiaddr, peer.ID, error) {
	transport, id := peer.SplitAddr(addr)
	if id == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrNoPeerID, addr)
	}
	return transport, id, nil
}
