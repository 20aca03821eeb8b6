package swarm

import (
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
)

// runIdentify translates identify results from the host event bus.
func (s *Swarm) runIdentify(sub event.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-sub.Out():
			if !ok {
				return
			}
			switch evt := e.(type) {
			case event.EvtPeerIdentificationCompleted:
				s.publish(IdentifyEvent{
					Kind:            IdentifyReceived,
					Peer:            evt.Peer,
					ObservedAddr:    evt.ObservedAddr,
					ListenAddrs:     evt.ListenAddrs,
					ProtocolVersion: evt.ProtocolVersion,
					AgentVersion:    evt.AgentVersion,
				})
			case event.EvtPeerIdentificationFailed:
				s.publish(IdentifyEvent{
					Kind: IdentifyError,
					Peer: evt.Peer,
					Err:  evt.Reason,
				})
			}
		}
	}
}

// watchIdentifySent reports Sent once the identify exchange on conn has
// settled while the peer is still connected. libp2p answers the remote's
// identify request on its own; the exchange settling is the earliest point
// at which our record is known to have been served.
func (s *Swarm) watchIdentifySent(conn network.Conn) {
	if s.ids == nil {
		return
	}

	s.spawn(func() {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ids.IdentifyWait(conn):
		}

		p := conn.RemotePeer()
		if s.host.Network().Connectedness(p) != network.Connected {
			return
		}
		s.publish(IdentifyEvent{Kind: IdentifySent, Peer: p})
	})
}
