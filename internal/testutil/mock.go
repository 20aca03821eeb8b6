// Package testutil provides a scripted stand-in for the protocol event loop
// so the node's orchestration can be tested without a network.
package testutil

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/swarm"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("mock swarm closed")

// DefaultEventBuffer is the capacity of the scripted event channel.
const DefaultEventBuffer = 256

// Hooks react to commands by pushing follow-up events. They run on the
// caller's goroutine while no lock is held.
type Hooks struct {
	OnListen   func(m *MockSwarm, addr multiaddr.Multiaddr)
	OnDial     func(m *MockSwarm, addr multiaddr.Multiaddr)
	OnDiscover func(m *MockSwarm, rendezvous peer.ID)
	OnRegister func(m *MockSwarm, rendezvous peer.ID, ns string)
}

// Registration records a Register call.
type Registration struct {
	Rendezvous peer.ID
	Namespace  string
}

// MockSwarm records every command it receives and replays the events the
// test pushes.
type MockSwarm struct {
	id   peer.ID
	priv crypto.PrivKey

	events chan swarm.Event

	mu        sync.RWMutex
	hooks     Hooks
	closed    bool
	eventsEnd bool
	addrs     []multiaddr.Multiaddr
	connected int

	listens     []multiaddr.Multiaddr
	listeners   map[swarm.ListenerID]multiaddr.Multiaddr
	nextID      swarm.ListenerID
	removed     []swarm.ListenerID
	dials       []multiaddr.Multiaddr
	discovers   []peer.ID
	registers   []Registration
	closeCalled int

	listenErr   error
	dialErr     func(multiaddr.Multiaddr) error
	discoverErr error
	registerErr error
}

// NewMockSwarm creates a mock with a fresh Ed25519 identity.
func NewMockSwarm() *MockSwarm {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		panic(err)
	}
	return &MockSwarm{
		id:        id,
		priv:      priv,
		events:    make(chan swarm.Event, DefaultEventBuffer),
		listeners: make(map[swarm.ListenerID]multiaddr.Multiaddr),
	}
}

// PrivateKey returns the mock's identity key.
func (m *MockSwarm) PrivateKey() crypto.PrivKey {
	return m.priv
}

// SetHooks installs command reactions.
func (m *MockSwarm) SetHooks(h Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// SetAddrs sets the addresses returned by Addrs.
func (m *MockSwarm) SetAddrs(addrs ...multiaddr.Multiaddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs = addrs
}

// SetConnected sets the value returned by Connected.
func (m *MockSwarm) SetConnected(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = n
}

// SetListenErr makes every Listen fail with err.
func (m *MockSwarm) SetListenErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenErr = err
}

// SetDialErr makes Dial fail for the addresses fn returns an error for.
func (m *MockSwarm) SetDialErr(fn func(multiaddr.Multiaddr) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialErr = fn
}

// SetDiscoverErr makes every Discover fail with err.
func (m *MockSwarm) SetDiscoverErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discoverErr = err
}

// SetRegisterErr makes every Register fail with err.
func (m *MockSwarm) SetRegisterErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
}

// Push queues events for the consumer. Pushing after CloseEvents is a
// no-op.
func (m *MockSwarm) Push(events ...swarm.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eventsEnd {
		return
	}
	for _, evt := range events {
		m.events <- evt
	}
}

// CloseEvents ends the event stream once the queued events are drained.
func (m *MockSwarm) CloseEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.eventsEnd {
		m.eventsEnd = true
		close(m.events)
	}
}

// LocalPeer implements the event loop.
func (m *MockSwarm) LocalPeer() peer.ID {
	return m.id
}

// Addrs implements the event loop.
func (m *MockSwarm) Addrs() []multiaddr.Multiaddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]multiaddr.Multiaddr(nil), m.addrs...)
}

// Connected implements the event loop.
func (m *MockSwarm) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Reservations returns the number of open circuit listeners.
func (m *MockSwarm) Reservations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, addr := range m.listeners {
		if _, err := addr.ValueForProtocol(multiaddr.P_CIRCUIT); err == nil {
			n++
		}
	}
	return n
}

// Events implements the event loop.
func (m *MockSwarm) Events() <-chan swarm.Event {
	return m.events
}

// Listen implements the event loop.
func (m *MockSwarm) Listen(addr multiaddr.Multiaddr) (swarm.ListenerID, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	m.listens = append(m.listens, addr)
	if m.listenErr != nil {
		err := m.listenErr
		m.mu.Unlock()
		return 0, err
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = addr
	hook := m.hooks.OnListen
	m.mu.Unlock()

	if hook != nil {
		hook(m, addr)
	}
	return id, nil
}

// RemoveListener implements the event loop.
func (m *MockSwarm) RemoveListener(id swarm.ListenerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	if _, ok := m.listeners[id]; !ok {
		return swarm.ErrUnknownListener
	}
	delete(m.listeners, id)
	return nil
}

// Dial implements the event loop.
func (m *MockSwarm) Dial(addr multiaddr.Multiaddr) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.dials = append(m.dials, addr)
	if m.dialErr != nil {
		if err := m.dialErr(addr); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	hook := m.hooks.OnDial
	m.mu.Unlock()

	if hook != nil {
		hook(m, addr)
	}
	return nil
}

// Discover implements the event loop.
func (m *MockSwarm) Discover(rendezvous peer.ID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.discovers = append(m.discovers, rendezvous)
	if m.discoverErr != nil {
		err := m.discoverErr
		m.mu.Unlock()
		return err
	}
	hook := m.hooks.OnDiscover
	m.mu.Unlock()

	if hook != nil {
		hook(m, rendezvous)
	}
	return nil
}

// Register implements the event loop.
func (m *MockSwarm) Register(rendezvous peer.ID, ns string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.registers = append(m.registers, Registration{Rendezvous: rendezvous, Namespace: ns})
	if m.registerErr != nil {
		err := m.registerErr
		m.mu.Unlock()
		return err
	}
	hook := m.hooks.OnRegister
	m.mu.Unlock()

	if hook != nil {
		hook(m, rendezvous, ns)
	}
	return nil
}

// Close marks the mock closed and ends the event stream.
func (m *MockSwarm) Close() error {
	m.mu.Lock()
	m.closed = true
	m.closeCalled++
	m.mu.Unlock()

	m.CloseEvents()
	return nil
}

// Listens returns every address passed to Listen.
func (m *MockSwarm) Listens() []multiaddr.Multiaddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]multiaddr.Multiaddr(nil), m.listens...)
}

// OpenListeners returns the addresses of listeners not yet removed.
func (m *MockSwarm) OpenListeners() []multiaddr.Multiaddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]multiaddr.Multiaddr, 0, len(m.listeners))
	for _, addr := range m.listeners {
		out = append(out, addr)
	}
	return out
}

// Removed returns every listener passed to RemoveListener.
func (m *MockSwarm) Removed() []swarm.ListenerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]swarm.ListenerID(nil), m.removed...)
}

// Dials returns every address passed to Dial.
func (m *MockSwarm) Dials() []multiaddr.Multiaddr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]multiaddr.Multiaddr(nil), m.dials...)
}

// Discovers returns every rendezvous peer passed to Discover.
func (m *MockSwarm) Discovers() []peer.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]peer.ID(nil), m.discovers...)
}

// Registers returns every Register call.
func (m *MockSwarm) Registers() []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Registration(nil), m.registers...)
}

// CloseCalls returns how many times Close was called.
func (m *MockSwarm) CloseCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalled
}

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() peer.ID {
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return id
}
