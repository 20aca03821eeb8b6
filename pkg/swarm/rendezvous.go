package swarm

import (
	"context"
	"sync"
	"time"

	rendezvous "github.com/berty/go-libp2p-rendezvous"
	"github.com/libp2p/go-libp2p/core/peer"
)

// rendezvousClient issues discovery and registration requests and keeps
// registrations alive until the swarm closes.
type rendezvousClient struct {
	s *Swarm

	mu         sync.Mutex
	points     map[peer.ID]rendezvous.RendezvousPoint
	registered map[registrationKey]struct{}
}

type registrationKey struct {
	node peer.ID
	ns   string
}

func newRendezvousClient(s *Swarm) *rendezvousClient {
	return &rendezvousClient{
		s:          s,
		points:     make(map[peer.ID]rendezvous.RendezvousPoint),
		registered: make(map[registrationKey]struct{}),
	}
}

func (c *rendezvousClient) point(node peer.ID) rendezvous.RendezvousPoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.points[node]
	if !ok {
		p = rendezvous.NewRendezvousPoint(c.s.host, node)
		c.points[node] = p
	}
	return p
}

// discover requests every registration known to node, regardless of
// namespace. No cookie is carried between rounds, so each round returns the
// full set.
func (c *rendezvousClient) discover(node peer.ID) {
	ctx, cancel := context.WithTimeout(c.s.ctx, c.s.cfg.RequestTimeout)
	defer cancel()

	regs, cookie, err := c.point(node).Discover(ctx, "", 0, nil)
	if c.s.ctx.Err() != nil {
		return
	}
	if err != nil {
		c.s.publish(RendezvousEvent{Kind: DiscoverFailed, RendezvousNode: node, Err: err})
		return
	}

	out := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		out = append(out, Registration{
			Peer:      reg.Peer.ID,
			Addrs:     reg.Peer.Addrs,
			Namespace: reg.Ns,
			TTL:       time.Duration(reg.Ttl) * time.Second,
		})
	}

	c.s.publish(RendezvousEvent{
		Kind:           Discovered,
		RendezvousNode: node,
		Registrations:  out,
		Cookie:         cookie,
	})
}

// register registers under ns at node and refreshes the registration at
// half its granted lifetime. A second call for the same pair is a no-op
// while the first is still refreshing.
func (c *rendezvousClient) register(node peer.ID, ns string) {
	key := registrationKey{node: node, ns: ns}

	c.mu.Lock()
	if _, ok := c.registered[key]; ok {
		c.mu.Unlock()
		return
	}
	c.registered[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.registered, key)
		c.mu.Unlock()
	}()

	clk := c.s.cfg.Clock
	point := c.point(node)
	ttl := int(c.s.cfg.RegistrationTTL / time.Second)
	renewal := false

	for {
		ctx, cancel := context.WithTimeout(c.s.ctx, c.s.cfg.RequestTimeout)
		granted, err := point.Register(ctx, ns, ttl)
		cancel()

		if c.s.ctx.Err() != nil {
			return
		}
		if err != nil {
			c.s.publish(RendezvousEvent{
				Kind:           RegisterFailed,
				RendezvousNode: node,
				Namespace:      ns,
				Renewal:        renewal,
				Err:            err,
			})
			return
		}

		c.s.publish(RendezvousEvent{
			Kind:           Registered,
			RendezvousNode: node,
			Namespace:      ns,
			TTL:            granted,
			Renewal:        renewal,
		})
		renewal = true

		wait := granted / 2
		if wait < minRenewal {
			wait = minRenewal
		}
		timer := clk.Timer(wait)
		select {
		case <-c.s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
