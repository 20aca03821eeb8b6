package oru

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/Great1ng/oru/pkg/address"
	"github.com/Great1ng/oru/pkg/connection"
	"github.com/Great1ng/oru/pkg/swarm"
)

// Connection is a bootstrapped node bound to its rendezvous node (the
// introducer). It holds the node's lease until Handle returns or Close is
// called.
type Connection struct {
	node *Node

	rendezvousID   peer.ID
	rendezvousAddr multiaddr.Multiaddr

	// publicListener is the circuit listener through the rendezvous node,
	// set once a reservation has been accepted.
	publicListener *swarm.ListenerID

	phases  *connection.Tracker
	backoff *connection.BackoffCalculator
	dialed  *expirable.LRU[peer.ID, struct{}]

	// roundCtx carries the discover span of the current round so the
	// reservation, register and dial spans nest under it.
	roundCtx     context.Context
	discoverSpan trace.Span
	registerSpan trace.Span

	// registered is set once the rendezvous node accepted our registration.
	registered bool

	// mu guards the Handle/Close handshake: the lease stays held while
	// Handle runs.
	mu          sync.Mutex
	handled     bool
	running     bool
	closed      bool
	releaseOnce sync.Once
}

func newConnection(n *Node, rendezvousAddr multiaddr.Multiaddr, rendezvousID peer.ID) *Connection {
	c := &Connection{
		node:           n,
		rendezvousID:   rendezvousID,
		rendezvousAddr: rendezvousAddr,
		backoff:        connection.NewBackoffCalculator(n.config.ReservationBaseDelay, n.config.ReservationMaxDelay),
		dialed:         expirable.NewLRU[peer.ID, struct{}](n.config.RedialCacheSize, nil, n.config.RedialCooldown),
	}
	c.phases = connection.NewTracker(c.onPhase)
	return c
}

// RendezvousID returns the identifier of the rendezvous node.
func (c *Connection) RendezvousID() peer.ID {
	return c.rendezvousID
}

// RendezvousAddr returns the rendezvous node's address, ending with its
// peer component.
func (c *Connection) RendezvousAddr() multiaddr.Multiaddr {
	return c.rendezvousAddr
}

// Phase returns the current phase. It must only be called from the
// goroutine running Handle.
func (c *Connection) Phase() Phase {
	return c.phases.Phase()
}

// Close releases the node without running Handle. It is safe to call
// Close multiple times and after Handle. While Handle runs Close does
// nothing; cancel Handle's context instead, and Handle releases the node
// when it returns.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.release()
	return nil
}

// Handle runs the discovery loop until the event stream ends or a fatal
// error occurs.
//
// It asks the rendezvous node for every registration. An empty answer makes
// this node reachable: it reserves a relay slot through the rendezvous node
// and registers under Namespace. Otherwise a relayed dial is issued to every
// discovered peer. A refused reservation, registration or discovery is
// fatal. Stream end returns nil.
func (c *Connection) Handle(ctx context.Context) (err error) {
	c.mu.Lock()
	switch {
	case c.handled:
		c.mu.Unlock()
		return NewError(ErrCodeInternal, "Handle called more than once", nil)
	case c.closed:
		c.mu.Unlock()
		return NewError(ErrCodeInternal, "Handle called on a closed connection", nil)
	}
	c.handled = true
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.release()
	}()

	defer func() {
		c.endSpans(err)
		if IsFatal(err) {
			c.node.config.Logger.Error("connection failed", "error", err)
			c.node.emitStatus(StatusEvent{Kind: StatusFailed, PeerID: c.rendezvousID, Error: err})
		}
	}()

	if err := c.discover(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if interval := c.node.config.RediscoveryInterval; interval > 0 {
		ticker := c.node.config.Clock.Ticker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := c.node.loop.Events()
	for {
		select {
		case <-ctx.Done():
			return contextError(ctx.Err())

		case <-tick:
			if c.phases.Phase() != connection.PhaseIdle {
				c.node.config.Logger.Debug("skipping rediscovery", "phase", c.phases.Phase())
				continue
			}
			if err := c.discover(ctx); err != nil {
				return err
			}

		case evt, ok := <-events:
			if !ok {
				c.node.config.Logger.Info("event stream ended")
				return nil
			}
			c.node.observe(evt)
			if err := c.handleEvent(ctx, evt); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) handleEvent(ctx context.Context, evt swarm.Event) error {
	rv, ok := evt.(swarm.RendezvousEvent)
	if !ok {
		return nil
	}

	switch rv.Kind {
	case swarm.Discovered:
		if c.phases.Phase() != connection.PhaseDiscoveryRequested {
			c.node.config.Logger.Debug("ignoring unsolicited discovery result", "phase", c.phases.Phase())
			return nil
		}
		if c.roundCtx != nil {
			ctx = c.roundCtx
		}
		return c.onDiscovered(ctx, rv.Registrations)

	case swarm.DiscoverFailed:
		// A round that cannot be answered leaves nothing to act on.
		c.node.config.Metrics.DiscoveryResult("failure", 0)
		return NewPeerError(ErrCodeDiscoveryFailed, "discovery failed", rv.RendezvousNode, rv.Err)

	case swarm.Registered:
		if rv.Renewal {
			c.node.config.Metrics.RegistrationResult("renewed")
			return nil
		}
		c.node.config.Metrics.RegistrationResult("registered")
		c.registered = true
		c.node.config.Logger.Info("registered", "namespace", rv.Namespace, "rendezvous", rv.RendezvousNode, "ttl", rv.TTL)
		c.endRegisterSpan("registered", nil)
		c.node.emitStatus(StatusEvent{Kind: StatusRegistered, PeerID: rv.RendezvousNode})
		if c.phases.Phase() == connection.PhaseSelfRegistering {
			return c.transition(connection.PhaseIdle)
		}
		return nil

	case swarm.RegisterFailed:
		c.node.config.Metrics.RegistrationResult("failed")
		err := NewPeerError(ErrCodeRegistrationFailed, "registration failed", rv.RendezvousNode, rv.Err)
		c.endRegisterSpan("failed", err)
		return err
	}

	return nil
}

// discover requests a discovery round at the rendezvous node.
func (c *Connection) discover(ctx context.Context) error {
	if err := c.transition(connection.PhaseDiscoveryRequested); err != nil {
		return err
	}

	c.roundCtx, c.discoverSpan = c.node.tracer.StartDiscover(ctx, c.rendezvousID)
	if err := c.node.loop.Discover(c.rendezvousID); err != nil {
		return NewPeerError(ErrCodeDiscoveryFailed, "failed to request discovery", c.rendezvousID, err)
	}
	return nil
}

func (c *Connection) onDiscovered(ctx context.Context, regs []swarm.Registration) error {
	c.node.config.Logger.Info("discovered", "registrations", len(regs))
	c.node.config.Metrics.DiscoveryResult("success", len(regs))
	if c.discoverSpan != nil {
		c.node.tracer.RecordDiscovered(c.discoverSpan, len(regs))
		c.node.tracer.EndSpan(c.discoverSpan, nil)
		c.discoverSpan = nil
	}

	c.node.mu.Lock()
	c.node.stats.discoveryRounds++
	c.node.stats.lastDiscovered = len(regs)
	c.node.mu.Unlock()

	if len(regs) == 0 {
		return c.bootstrapSelf(ctx)
	}

	if err := c.transition(connection.PhaseDialingDiscoveredPeers); err != nil {
		return err
	}
	c.dialDiscovered(ctx, regs)
	return c.transition(connection.PhaseIdle)
}

// bootstrapSelf makes this node reachable through the rendezvous node and
// registers it.
func (c *Connection) bootstrapSelf(ctx context.Context) error {
	if err := c.transition(connection.PhaseSelfBootstrapping); err != nil {
		return err
	}

	if c.publicListener == nil {
		if err := c.reserve(ctx); err != nil {
			return err
		}
	}

	if err := c.transition(connection.PhaseSelfRegistering); err != nil {
		return err
	}

	// The swarm keeps a granted registration refreshed on its own.
	if c.registered {
		c.node.config.Logger.Debug("already registered", "namespace", Namespace, "rendezvous", c.rendezvousID)
		return c.transition(connection.PhaseIdle)
	}

	_, c.registerSpan = c.node.tracer.StartRegister(ctx, c.rendezvousID, Namespace)
	if err := c.node.loop.Register(c.rendezvousID, Namespace); err != nil {
		err = NewPeerError(ErrCodeRegistrationFailed, "failed to request registration", c.rendezvousID, err)
		c.endRegisterSpan("failed", err)
		return err
	}
	return nil
}

// reserve listens on the relayed address through the rendezvous node until
// a reservation is accepted or the attempts are exhausted.
func (c *Connection) reserve(ctx context.Context) error {
	cfg := c.node.config
	circuit := address.Circuit(c.rendezvousAddr)

	var retry connection.RetryState
	for attempt := 1; ; attempt++ {
		spanCtx, span := c.node.tracer.StartReservation(ctx, c.rendezvousID, attempt)

		id, err := c.node.loop.Listen(circuit)
		if err != nil {
			err = NewPeerError(ErrCodeListenFailed, fmt.Sprintf("failed to listen on %s", circuit), c.rendezvousID, err)
			c.node.tracer.EndSpan(span, err)
			return err
		}

		accepted, reason, err := c.node.awaitReservation(spanCtx)
		if err != nil {
			_ = c.node.loop.RemoveListener(id)
			c.node.tracer.EndSpan(span, err)
			return err
		}

		if accepted {
			c.publicListener = &id
			c.node.tracer.RecordResult(span, "accepted", nil)
			span.End()
			c.node.emitStatus(StatusEvent{Kind: StatusReservationAccepted, PeerID: c.rendezvousID, Addr: circuit})
			return nil
		}

		_ = c.node.loop.RemoveListener(id)
		c.node.tracer.RecordResult(span, "failed", reason)
		span.End()
		c.node.emitStatus(StatusEvent{Kind: StatusReservationFailed, PeerID: c.rendezvousID, Error: reason})

		if !connection.ShouldRetry(attempt, cfg.ReservationAttempts) {
			return &Error{
				Code:    ErrCodeReservationFailed,
				Message: "relay reservation refused",
				PeerID:  c.rendezvousID,
				Cause:   reason,
			}
		}

		c.backoff.ScheduleNext(&retry, cfg.Clock.Now())
		cfg.Logger.Warn("retrying relay reservation",
			"attempt", attempt+1,
			"max_attempts", cfg.ReservationAttempts,
			"delay", retry.CurrentDelay,
		)
		if err := c.node.sleep(ctx, retry.CurrentDelay); err != nil {
			return err
		}
	}
}

// dialDiscovered issues a relayed dial to every discovered peer. A dial
// that cannot be issued is logged and does not stop the others.
func (c *Connection) dialDiscovered(ctx context.Context, regs []swarm.Registration) {
	self := c.node.ID()

	var errs error
	for _, reg := range regs {
		if reg.Peer == self {
			c.node.config.Metrics.DialResult("skipped")
			continue
		}
		if c.dialed.Contains(reg.Peer) {
			c.node.config.Logger.Debug("skipping recently dialed peer", "peer", reg.Peer)
			c.node.config.Metrics.DialResult("skipped")
			continue
		}

		if err := c.dial(ctx, reg.Peer); err != nil {
			errs = multierr.Append(errs, err)
			c.node.config.Metrics.DialResult("failed")
			continue
		}

		c.dialed.Add(reg.Peer, struct{}{})
		c.node.config.Metrics.DialResult("issued")
		c.node.emitStatus(StatusEvent{Kind: StatusPeerDialed, PeerID: reg.Peer})

		c.node.mu.Lock()
		c.node.stats.dialsIssued++
		c.node.mu.Unlock()
	}

	if errs != nil {
		failed := multierr.Errors(errs)
		c.node.mu.Lock()
		c.node.stats.dialsFailed += len(failed)
		c.node.mu.Unlock()
		c.node.config.Logger.Warn("some discovered peers could not be dialed", "failed", len(failed), "error", errs)
	}
}

func (c *Connection) dial(ctx context.Context, target peer.ID) (err error) {
	addr, err := address.CircuitTo(c.rendezvousAddr, target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}

	_, span := c.node.tracer.StartDial(ctx, target, addr.String())
	defer func() { c.node.tracer.EndSpan(span, err) }()

	c.node.config.Logger.Debug("dialing discovered peer", "peer", target, "addr", addr)
	if err := c.node.loop.Dial(addr); err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	return nil
}

func (c *Connection) transition(target Phase) error {
	if err := c.phases.Transition(target); err != nil {
		return NewError(ErrCodeInternal, "invalid connection phase", err)
	}
	return nil
}

func (c *Connection) onPhase(from, to Phase) {
	c.node.setPhase(to)
	c.node.config.Logger.Debug("phase changed", "from", from, "to", to)
	c.node.config.Metrics.PhaseChanged(to.String())
	c.node.emitStatus(StatusEvent{Kind: StatusPhaseChanged})
}

func (c *Connection) endRegisterSpan(result string, err error) {
	if c.registerSpan == nil {
		return
	}
	c.node.tracer.RecordResult(c.registerSpan, result, err)
	c.registerSpan.End()
	c.registerSpan = nil
}

func (c *Connection) endSpans(err error) {
	if c.discoverSpan != nil {
		c.node.tracer.EndSpan(c.discoverSpan, err)
		c.discoverSpan = nil
	}
	if c.registerSpan != nil {
		c.endRegisterSpan("aborted", err)
	}
}

// release returns the lease to the node and withdraws the relayed listener.
func (c *Connection) release() {
	c.releaseOnce.Do(func() {
		if c.publicListener != nil {
			if err := c.node.loop.RemoveListener(*c.publicListener); err != nil && !errors.Is(err, swarm.ErrUnknownListener) {
				c.node.config.Logger.Debug("failed to remove relay listener", "error", err)
			}
		}
		c.node.release()
	})
}
