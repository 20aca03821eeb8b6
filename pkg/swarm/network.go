package swarm

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/address"
)

// notifiee converts network notifications into events. Callbacks run on
// libp2p's notification goroutines and must not block, so every event is
// published asynchronously.
func (s *Swarm) notifiee() network.Notifiee {
	return &network.NotifyBundle{
		ListenF: func(_ network.Network, addr multiaddr.Multiaddr) {
			s.publishAsync(NetworkEvent{Kind: NewListenAddr, Addr: addr})
		},
		ListenCloseF: func(_ network.Network, addr multiaddr.Multiaddr) {
			s.publishAsync(NetworkEvent{Kind: ListenerClosed, Addr: addr})
		},
		ConnectedF: func(_ network.Network, conn network.Conn) {
			s.onConnected(conn)
		},
		DisconnectedF: func(_ network.Network, conn network.Conn) {
			s.publishAsync(NetworkEvent{
				Kind:      ConnectionClosed,
				Peer:      conn.RemotePeer(),
				Addr:      conn.RemoteMultiaddr(),
				Direction: conn.Stat().Direction,
			})
		},
	}
}

func (s *Swarm) onConnected(conn network.Conn) {
	remote := conn.RemoteMultiaddr()
	dir := conn.Stat().Direction

	s.publishAsync(NetworkEvent{
		Kind:      ConnectionEstablished,
		Peer:      conn.RemotePeer(),
		Addr:      remote,
		Direction: dir,
	})

	if address.IsCircuit(remote) {
		evt := RelayEvent{
			Kind:      CircuitEstablished,
			Peer:      conn.RemotePeer(),
			Direction: dir,
		}
		if info, err := address.Relay(remote); err == nil {
			evt.Relay = info.ID
		}
		s.publishAsync(evt)
	}

	s.watchIdentifySent(conn)
}
