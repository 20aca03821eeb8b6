package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"
	"github.com/multiformats/go-multiaddr"
)

// minRenewal bounds how soon a reservation is refreshed.
const minRenewal = time.Second

// reservation is the live state of one circuit listener.
type reservation struct {
	relay  peer.ID
	addrs  []multiaddr.Multiaddr
	cancel context.CancelFunc
}

// relayClient requests and renews relay reservations for circuit listeners.
type relayClient struct {
	s *Swarm

	mu           sync.Mutex
	reservations map[ListenerID]*reservation
	listening    bool
}

func newRelayClient(s *Swarm) *relayClient {
	return &relayClient{
		s:            s,
		reservations: make(map[ListenerID]*reservation),
	}
}

// start registers the circuit listener id and begins reserving a slot at
// relay. The outcome arrives as a RelayEvent.
func (r *relayClient) start(id ListenerID, relay peer.AddrInfo) {
	r.ensureListening()

	ctx, cancel := context.WithCancel(r.s.ctx)

	r.mu.Lock()
	r.reservations[id] = &reservation{relay: relay.ID, cancel: cancel}
	r.mu.Unlock()

	if !r.s.spawn(func() { r.run(ctx, id, relay) }) {
		cancel()
	}
}

// stop cancels renewal for id and withdraws its advertised addresses.
func (r *relayClient) stop(id ListenerID) {
	r.mu.Lock()
	rsvp, ok := r.reservations[id]
	delete(r.reservations, id)
	r.mu.Unlock()

	if ok {
		rsvp.cancel()
	}
}

// ensureListening attaches the circuit transport's listener to the host
// network so that inbound relayed connections are accepted.
func (r *relayClient) ensureListening() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listening {
		return
	}
	if err := r.s.host.Network().Listen(circuit); err != nil {
		// The transport may already be listening when libp2p set it up.
		r.s.cfg.Logger.Debug("circuit listener not attached", "error", err)
	}
	r.listening = true
}

func (r *relayClient) run(ctx context.Context, id ListenerID, relay peer.AddrInfo) {
	clk := r.s.cfg.Clock
	renewal := false

	for {
		reqCtx, cancel := context.WithTimeout(ctx, r.s.cfg.RequestTimeout)
		rsvp, err := client.Reserve(reqCtx, r.s.host, relay)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.s.publish(RelayEvent{
				Kind:    ReservationFailed,
				Relay:   relay.ID,
				Renewal: renewal,
				Err:     err,
			})
			r.setAddrs(id, nil)
			return
		}

		r.setAddrs(id, rsvp.Addrs)
		r.s.publish(RelayEvent{
			Kind:       ReservationAccepted,
			Relay:      relay.ID,
			Expiration: rsvp.Expiration,
			Addrs:      rsvp.Addrs,
			Renewal:    renewal,
		})
		renewal = true

		timer := clk.Timer(renewAfter(clk.Now(), rsvp.Expiration))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// renewAfter returns the delay before refreshing a reservation that
// expires at exp: three quarters of the remaining lifetime.
func renewAfter(now, exp time.Time) time.Duration {
	d := exp.Sub(now) * 3 / 4
	if d < minRenewal {
		return minRenewal
	}
	return d
}

func (r *relayClient) setAddrs(id ListenerID, addrs []multiaddr.Multiaddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rsvp, ok := r.reservations[id]; ok {
		rsvp.addrs = addrs
	}
}

// addrsFactory appends the addresses of every accepted reservation to the
// host's own addresses.
func (r *relayClient) addrsFactory(addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	out = append(out, addrs...)
	for _, rsvp := range r.reservations {
		out = append(out, rsvp.addrs...)
	}
	return out
}

// count returns the number of circuit listeners with an accepted slot.
func (r *relayClient) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rsvp := range r.reservations {
		if len(rsvp.addrs) > 0 {
			n++
		}
	}
	return n
}
