// Package swarm binds the libp2p transport stack and the four protocol
// capabilities the node relies on (identify, circuit relay client, hole
// punching and rendezvous client) into a single tagged event stream.
//
// Every capability runs behind a small adapter that translates its native
// notifications into one Event variant and publishes it on the shared
// channel returned by Events. Commands (Listen, Dial, Discover, Register)
// are issued asynchronously: their outcomes arrive later as events.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/identify"
	"github.com/multiformats/go-multiaddr"
)

// Default configuration values.
const (
	DefaultEventBufferSize  = 64
	DefaultDialTimeout      = 30 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
	DefaultRegistrationTTL  = 2 * time.Hour
	DefaultConnMgrLowWater  = 100
	DefaultConnMgrHighWater = 400
)

var (
	// ErrClosed indicates the swarm has been closed.
	ErrClosed = errors.New("swarm closed")

	// ErrUnknownListener indicates a listener ID that was never issued or
	// has already been removed.
	ErrUnknownListener = errors.New("unknown listener")
)

// ListenerID identifies a listener opened with Listen.
type ListenerID uint64

// Logger is the logging interface used by the swarm. It matches the
// node-level logger so the same implementation can be passed through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config contains configuration for a Swarm.
type Config struct {
	// PrivateKey is the host identity. Required.
	PrivateKey crypto.PrivKey

	// ProtocolVersion is announced through identify.
	ProtocolVersion string

	// AgentVersion is announced through identify.
	AgentVersion string

	// EventBufferSize is the capacity of the merged event channel.
	EventBufferSize int

	// DialTimeout bounds each outbound dial, including the identity probe.
	DialTimeout time.Duration

	// RequestTimeout bounds each rendezvous and reservation request.
	RequestTimeout time.Duration

	// RegistrationTTL is the lifetime requested for rendezvous registrations.
	RegistrationTTL time.Duration

	// ConnMgrLowWater and ConnMgrHighWater configure connection trimming.
	ConnMgrLowWater  int
	ConnMgrHighWater int

	// NATPortMap enables UPnP / NAT-PMP port mapping.
	NATPortMap bool

	// Clock drives renewal timers. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives adapter diagnostics. Defaults to a no-op logger.
	Logger Logger
}

func (c *Config) applyDefaults() {
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.AgentVersion == "" {
		c.AgentVersion = DefaultAgentVersion
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RegistrationTTL <= 0 {
		c.RegistrationTTL = DefaultRegistrationTTL
	}
	if c.ConnMgrLowWater <= 0 {
		c.ConnMgrLowWater = DefaultConnMgrLowWater
	}
	if c.ConnMgrHighWater <= 0 {
		c.ConnMgrHighWater = DefaultConnMgrHighWater
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
}

// Swarm is the libp2p-backed event loop. Adapters publish into one channel;
// a single consumer reads it through Events.
//
// All methods are safe for concurrent use.
type Swarm struct {
	cfg  Config
	host host.Host
	ids  identify.IDService

	out chan Event

	ctx    context.Context
	cancel context.CancelFunc

	// spawnMu guards closed and every wg.Add so that Close can wait for
	// adapter goroutines without racing new ones.
	spawnMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup

	listenMu     sync.Mutex
	listeners    map[ListenerID]*listener
	nextListener atomic.Uint64

	relay      *relayClient
	rendezvous *rendezvousClient
	prober     *prober

	closeOnce sync.Once
	closeErr  error
}

// New builds the libp2p host and starts every capability adapter.
func New(cfg Config) (*Swarm, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("swarm: private key is required")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	s := &Swarm{
		cfg:       cfg,
		out:       make(chan Event, cfg.EventBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[ListenerID]*listener),
	}
	s.relay = newRelayClient(s)
	s.rendezvous = newRendezvousClient(s)

	h, err := newHost(hostConfig{
		PrivateKey:       cfg.PrivateKey,
		ProtocolVersion:  cfg.ProtocolVersion,
		AgentVersion:     cfg.AgentVersion,
		ConnMgrLowWater:  cfg.ConnMgrLowWater,
		ConnMgrHighWater: cfg.ConnMgrHighWater,
		NATPortMap:       cfg.NATPortMap,
		Tracer:           &holePunchTracer{s: s},
		AddrsFactory:     s.relay.addrsFactory,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.host = h

	if withIDs, ok := h.(interface{ IDService() identify.IDService }); ok {
		s.ids = withIDs.IDService()
	}

	s.prober, err = newProber(cfg.PrivateKey)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, err
	}

	// Subscriptions are taken before New returns so no identification that
	// follows the first dial can be missed.
	sub, err := h.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerIdentificationFailed),
	})
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("failed to subscribe to identify events: %w", err)
	}
	s.spawn(func() { s.runIdentify(sub) })

	h.Network().Notify(s.notifiee())

	return s, nil
}

// LocalPeer returns the host's peer ID.
func (s *Swarm) LocalPeer() peer.ID {
	return s.host.ID()
}

// Addrs returns the addresses the host currently advertises.
func (s *Swarm) Addrs() []multiaddr.Multiaddr {
	return s.host.Addrs()
}

// Connected returns the number of peers with an open connection.
func (s *Swarm) Connected() int {
	return len(s.host.Network().Peers())
}

// Host returns the underlying libp2p host.
// Use with caution - prefer the swarm's commands when possible.
func (s *Swarm) Host() host.Host {
	return s.host
}

// Events returns the merged event stream. The channel is closed after Close
// once every adapter has stopped.
func (s *Swarm) Events() <-chan Event {
	return s.out
}

// Close stops all adapters, closes the event stream and shuts the host down.
// It is safe to call Close multiple times.
func (s *Swarm) Close() error {
	s.closeOnce.Do(func() {
		s.spawnMu.Lock()
		s.closed = true
		s.spawnMu.Unlock()

		s.cancel()
		s.wg.Wait()
		close(s.out)

		s.closeErr = s.host.Close()
	})
	return s.closeErr
}

func (s *Swarm) isClosed() bool {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()
	return s.closed
}

// spawn runs fn in a goroutine tracked by Close. It returns false if the
// swarm is already closed.
func (s *Swarm) spawn(fn func()) bool {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	if s.closed {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// publish delivers evt to the consumer, blocking until it is read or the
// swarm is closed.
func (s *Swarm) publish(evt Event) {
	select {
	case s.out <- evt:
	case <-s.ctx.Done():
	}
}

// publishAsync publishes from callbacks that must not block the caller.
func (s *Swarm) publishAsync(evt Event) {
	s.spawn(func() { s.publish(evt) })
}
