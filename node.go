package oru

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/internal/eventdispatch"
	oruotel "github.com/Great1ng/oru/otel"
	"github.com/Great1ng/oru/pkg/address"
	"github.com/Great1ng/oru/pkg/identity"
	"github.com/Great1ng/oru/pkg/swarm"
)

// EventLoop is the protocol multiplexer a Node drives. *swarm.Swarm is the
// production implementation.
type EventLoop interface {
	LocalPeer() peer.ID
	Addrs() []multiaddr.Multiaddr
	Connected() int
	Reservations() int

	// Events returns the merged event stream. It is closed when the loop
	// shuts down.
	Events() <-chan swarm.Event

	Listen(addr multiaddr.Multiaddr) (swarm.ListenerID, error)
	RemoveListener(id swarm.ListenerID) error
	Dial(addr multiaddr.Multiaddr) error
	Discover(rendezvous peer.ID) error
	Register(rendezvous peer.ID, ns string) error

	Close() error
}

var _ EventLoop = (*swarm.Swarm)(nil)

// Node is the main entry point of the overlay. It owns the identity and the
// protocol event loop, and hands out at most one live Connection at a time.
//
// Accessors are safe for concurrent use. Connect, and the Connection it
// returns, are the single consumer of the event stream.
type Node struct {
	config *Config
	loop   EventLoop
	tracer *oruotel.Tracer

	status    *eventdispatch.Dispatcher
	statusOut chan StatusEvent
	done      chan struct{}

	// lease is held from Connect until the returned Connection is released.
	lease  atomic.Bool
	closed atomic.Bool

	mu         sync.RWMutex
	publicAddr multiaddr.Multiaddr
	introducer multiaddr.Multiaddr
	phase      Phase
	stats      nodeStats
	startedAt  time.Time

	closeOnce sync.Once
	closeErr  error
}

// New creates a node with the given configuration. A nil cfg uses the
// defaults. The libp2p host is built but no listener is opened until
// Connect.
func New(cfg *Config) (*Node, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	var (
		id  *identity.Identity
		err error
	)
	if cfg.PrivateKey == nil {
		id, err = identity.Generate()
	} else {
		id, err = identity.FromEd25519(cfg.PrivateKey)
	}
	if err != nil {
		return nil, NewError(ErrCodeInvalidConfig, "failed to load identity", err)
	}

	sw, err := swarm.New(swarm.Config{
		PrivateKey:      id.PrivateKey(),
		ProtocolVersion: CurrentVersion().Identify(),
		AgentVersion:    Namespace + "/" + CurrentVersion().String(),
		EventBufferSize: cfg.EventBufferSize,
		DialTimeout:     cfg.DialTimeout,
		RequestTimeout:  cfg.RequestTimeout,
		RegistrationTTL: cfg.RegistrationTTL,
		NATPortMap:      cfg.NATPortMap,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, NewError(ErrCodeInternal, "failed to create swarm", err)
	}

	return newNodeWithSwarm(cfg, sw), nil
}

// newNodeWithSwarm binds an already constructed event loop. cfg must be
// validated and defaulted.
func newNodeWithSwarm(cfg *Config, loop EventLoop) *Node {
	n := &Node{
		config:    cfg,
		loop:      loop,
		tracer:    oruotel.NewTracer(cfg.TracerProvider),
		status:    eventdispatch.NewDispatcher(cfg.StatusBufferSize),
		statusOut: make(chan StatusEvent, cfg.StatusBufferSize),
		done:      make(chan struct{}),
		startedAt: cfg.Clock.Now(),
	}

	go n.forwardStatus()

	return n
}

// ID returns the local node identifier.
func (n *Node) ID() peer.ID {
	return n.loop.LocalPeer()
}

// PublicKey returns the local public key.
func (n *Node) PublicKey() (crypto.PubKey, error) {
	return n.ID().ExtractPublicKey()
}

// Addrs returns the addresses the node currently advertises, including
// relayed addresses once a reservation is held.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.loop.Addrs()
}

// PublicAddr returns our address as observed by the introducer, or nil
// before Connect has completed.
func (n *Node) PublicAddr() multiaddr.Multiaddr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.publicAddr
}

// Status returns the channel of status events. Delivery is best-effort and
// the channel is closed by Close.
func (n *Node) Status() <-chan StatusEvent {
	return n.statusOut
}

// Close shuts down the event loop and releases all resources. Any running
// Handle returns once the event stream ends.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		if err := n.loop.Close(); err != nil {
			n.closeErr = fmt.Errorf("failed to close event loop: %w", err)
		}
		n.status.Close()
		close(n.done)
	})
	return n.closeErr
}

// Connect bootstraps the node through the introducer at introducerAddr and
// returns a Connection ready to Handle. preferredPort is the local TCP port
// to listen on (0 lets the OS choose).
//
// Connect listens, waits for the startup grace period, dials the introducer
// and then blocks until our identify record has been served to it and its
// record, carrying our observed public address, has been received.
//
// Only one Connection may exist at a time; a second Connect fails with
// ErrNodeBusy until the first is released.
func (n *Node) Connect(ctx context.Context, introducerAddr string, preferredPort uint16) (conn *Connection, err error) {
	if n.closed.Load() {
		return nil, ErrNodeClosed
	}
	if !n.acquire() {
		return nil, ErrNodeBusy
	}
	defer func() {
		if err != nil {
			n.release()
			n.config.Metrics.ConnectAttempt("failure")
		}
	}()

	ctx, span := n.tracer.StartConnect(ctx, introducerAddr)
	defer func() { n.tracer.EndSpan(span, err) }()

	addr, err := ParseIntroducer(introducerAddr)
	if err != nil {
		return nil, err
	}

	listenAddr := address.LocalListen(n.config.ListenIP, preferredPort)
	listener, err := n.loop.Listen(listenAddr)
	if err != nil {
		return nil, NewError(ErrCodeListenFailed, fmt.Sprintf("failed to listen on %s", listenAddr), err)
	}
	n.config.Logger.Info("listening", "addr", listenAddr)
	defer func() {
		if err == nil {
			return
		}
		if rmErr := n.loop.RemoveListener(listener); rmErr != nil && !errors.Is(rmErr, swarm.ErrUnknownListener) {
			n.config.Logger.Warn("failed to remove listener", "addr", listenAddr, "error", rmErr)
		}
	}()

	if err := n.sleep(ctx, n.config.StartupGrace); err != nil {
		return nil, err
	}

	if err := n.loop.Dial(addr); err != nil {
		return nil, NewError(ErrCodeDialFailed, fmt.Sprintf("failed to dial introducer %s", addr), err)
	}

	started := n.config.Clock.Now()
	remote, observed, err := n.awaitAddressExchange(ctx, addr)
	if err != nil {
		return nil, err
	}
	n.config.Metrics.AddressExchangeDuration(n.config.Clock.Since(started).Seconds())

	introducer, err := address.WithPeer(addr, remote)
	if err != nil {
		return nil, NewPeerError(ErrCodeBootstrapFailed, "introducer identity does not match its address", remote, err)
	}

	n.mu.Lock()
	n.publicAddr = observed
	n.introducer = introducer
	n.stats.bootstrappedAt = n.config.Clock.Now()
	n.mu.Unlock()

	n.config.Logger.Info("bootstrapped", "introducer", introducer, "public_addr", observed)
	n.config.Metrics.ConnectAttempt("success")
	n.emitStatus(StatusEvent{Kind: StatusBootstrapped, PeerID: remote, Addr: observed})

	return newConnection(n, introducer, remote), nil
}

// awaitAddressExchange reads the event stream until one identify Sent and
// one identify Received have been seen, in either order. Repeats of an
// already seen kind are ignored. It returns the remote id from Sent and the
// observed address from Received.
//
// A failed dial to the introducer, or a failed identify exchange with it before
// its record arrived, ends the wait with ErrCodeBootstrapFailed. The
// introducer's id is taken from its address or learned from the connection
// the dial opened. Failures concerning other peers are logged only.
func (n *Node) awaitAddressExchange(ctx context.Context, introducer multiaddr.Multiaddr) (peer.ID, multiaddr.Multiaddr, error) {
	ctx, span := n.tracer.StartAddressExchange(ctx)

	var (
		remote   peer.ID
		observed multiaddr.Multiaddr
		sent     bool
		received bool
	)
	introducerID, _ := address.PeerID(introducer)
	transport, _ := peer.SplitAddr(introducer)

	fail := func(id peer.ID, msg string, cause error) (peer.ID, multiaddr.Multiaddr, error) {
		err := NewPeerError(ErrCodeBootstrapFailed, msg, id, cause)
		n.tracer.EndSpan(span, err)
		return "", nil, err
	}

	for !sent || !received {
		select {
		case <-ctx.Done():
			err := contextError(ctx.Err())
			n.tracer.EndSpan(span, err)
			return "", nil, err

		case evt, ok := <-n.loop.Events():
			if !ok {
				err := NewError(ErrCodeBootstrapFailed, "event stream ended before the address exchange completed", nil)
				n.tracer.EndSpan(span, err)
				return "", nil, err
			}
			n.observe(evt)

			if ne, isNetwork := evt.(swarm.NetworkEvent); isNetwork {
				switch {
				case ne.Kind == swarm.DialFailed && ne.Addr != nil && ne.Addr.Equal(introducer):
					return fail(ne.Peer, "failed to reach introducer", ne.Err)
				case ne.Kind == swarm.ConnectionEstablished && introducerID == "" &&
					ne.Direction == network.DirOutbound && ne.Addr != nil && ne.Addr.Equal(transport):
					introducerID = ne.Peer
				}
				continue
			}

			id, isIdentify := evt.(swarm.IdentifyEvent)
			if !isIdentify {
				continue
			}
			switch id.Kind {
			case swarm.IdentifyError:
				if introducerID != "" && id.Peer == introducerID && !received {
					return fail(id.Peer, "identify exchange with introducer failed", id.Err)
				}
				n.config.Logger.Debug("ignoring identify failure", "peer", id.Peer, "error", id.Err)
			case swarm.IdentifySent:
				if !sent {
					sent = true
					remote = id.Peer
					n.config.Logger.Debug("identify sent", "peer", id.Peer)
				}
			case swarm.IdentifyReceived:
				if !received {
					received = true
					observed = id.ObservedAddr
					n.config.Logger.Debug("identify received", "peer", id.Peer, "observed", id.ObservedAddr)
				}
			}
		}
	}

	n.tracer.EndSpan(span, nil)
	return remote, observed, nil
}

// waitForReservation blocks until the relay answers a reservation request.
// It returns true when the reservation was accepted and false when it was
// refused or the event stream ended. Unrelated events are ignored.
func (n *Node) waitForReservation(ctx context.Context) (bool, error) {
	accepted, _, err := n.awaitReservation(ctx)
	return accepted, err
}

// awaitReservation is waitForReservation that also returns the refusal
// reason.
func (n *Node) awaitReservation(ctx context.Context) (accepted bool, reason error, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil, contextError(ctx.Err())

		case evt, ok := <-n.loop.Events():
			if !ok {
				n.config.Logger.Warn("event stream ended while waiting for reservation")
				return false, errors.New("event stream ended"), nil
			}
			n.observe(evt)

			re, isRelay := evt.(swarm.RelayEvent)
			if !isRelay {
				continue
			}
			switch re.Kind {
			case swarm.ReservationAccepted:
				n.config.Logger.Info("relay reservation accepted", "relay", re.Relay, "expires", re.Expiration)
				return true, nil, nil
			case swarm.ReservationFailed:
				n.config.Logger.Warn("relay reservation failed", "relay", re.Relay, "error", re.Err)
				return false, re.Err, nil
			}
		}
	}
}

// observe logs every event read from the loop and feeds the metrics.
func (n *Node) observe(evt swarm.Event) {
	n.config.Logger.Debug("event", "source", evt.Source().String(), "event", evt.String())
	n.config.Metrics.EventReceived(evt.Source().String())

	n.mu.Lock()
	n.stats.eventsReceived++
	n.mu.Unlock()

	switch e := evt.(type) {
	case swarm.IdentifyEvent:
		if e.Kind == swarm.IdentifyReceived {
			n.checkPeerVersion(e.Peer, e.ProtocolVersion)
		}
	case swarm.HolePunchEvent:
		if e.Kind == swarm.HolePunchFinished {
			result := "failure"
			if e.Success {
				result = "success"
			}
			n.config.Metrics.HolePunchResult(result)
			n.mu.Lock()
			if e.Success {
				n.stats.holePunchesSucceeded++
			} else {
				n.stats.holePunchesFailed++
			}
			n.mu.Unlock()
		}
	case swarm.RelayEvent:
		switch e.Kind {
		case swarm.ReservationAccepted:
			result := "accepted"
			if e.Renewal {
				result = "renewed"
			}
			n.config.Metrics.ReservationResult(result)
			n.mu.Lock()
			n.stats.reservation = ReservationAccepted
			n.stats.reservationErr = nil
			n.stats.reservationExpiry = e.Expiration
			n.mu.Unlock()
		case swarm.ReservationFailed:
			n.config.Metrics.ReservationResult("failed")
			n.mu.Lock()
			n.stats.reservation = ReservationFailed
			n.stats.reservationErr = e.Err
			n.mu.Unlock()
		}
	}
}

// sleep waits d on the configured clock.
func (n *Node) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := n.config.Clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return contextError(ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (n *Node) acquire() bool {
	return n.lease.CompareAndSwap(false, true)
}

func (n *Node) release() {
	n.lease.Store(false)
	n.setPhase(PhaseIdle)
}

func (n *Node) setPhase(p Phase) {
	n.mu.Lock()
	n.phase = p
	n.mu.Unlock()
}

// emitStatus delivers a status event without blocking.
func (n *Node) emitStatus(evt StatusEvent) {
	n.mu.RLock()
	phase := n.phase
	n.mu.RUnlock()

	ok := n.status.Emit(eventdispatch.StatusEvent{
		Kind:      int(evt.Kind),
		Phase:     phase,
		PeerID:    evt.PeerID,
		Addr:      evt.Addr,
		Error:     evt.Error,
		Timestamp: n.config.Clock.Now(),
	})
	if !ok {
		n.config.Metrics.StatusEventDropped()
	}
}

// forwardStatus converts internal status events to the public type.
func (n *Node) forwardStatus() {
	defer close(n.statusOut)

	for evt := range n.status.Events() {
		select {
		case n.statusOut <- StatusEvent{
			Kind:      StatusKind(evt.Kind),
			Phase:     evt.Phase,
			PeerID:    evt.PeerID,
			Addr:      evt.Addr,
			Error:     evt.Error,
			Timestamp: evt.Timestamp,
		}:
		case <-n.done:
			return
		}
	}
}
