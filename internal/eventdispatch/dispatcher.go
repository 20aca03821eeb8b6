// Package eventdispatch provides non-blocking delivery of node status events.
package eventdispatch

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/pkg/connection"
)

// StatusEvent is one status notification. It mirrors the public
// oru.StatusEvent type.
type StatusEvent struct {
	Kind      int
	Phase     connection.Phase
	PeerID    peer.ID
	Addr      multiaddr.Multiaddr
	Error     error
	Timestamp time.Time
}

// IsError returns true if this event represents an error condition.
func (e StatusEvent) IsError() bool {
	return e.Error != nil
}

// Dispatcher manages event emission to a buffered channel.
// It implements non-blocking sends so a slow consumer never stalls the
// connection loop.
type Dispatcher struct {
	events chan StatusEvent
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a new event dispatcher with the given buffer size.
func NewDispatcher(bufferSize int) *Dispatcher {
	return &Dispatcher{
		events: make(chan StatusEvent, bufferSize),
	}
}

// Emit emits a status event. It never blocks: if the channel is full or
// the dispatcher is closed the event is dropped and Emit returns false.
func (d *Dispatcher) Emit(evt StatusEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	select {
	case d.events <- evt:
		return true
	default:
		return false
	}
}

// Events returns the events channel for the application to consume.
// The channel is closed when the dispatcher is closed.
func (d *Dispatcher) Events() <-chan StatusEvent {
	return d.events
}

// Close closes the events channel.
// It is safe to call Close multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.events)
	}
}

// IsClosed returns true if the dispatcher has been closed.
func (d *Dispatcher) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
