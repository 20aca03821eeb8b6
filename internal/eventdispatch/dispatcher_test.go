package eventdispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Great1ng/oru/pkg/connection"
)

func mustParsePeerID(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	if err != nil {
		t.Fatalf("failed to parse peer ID: %v", err)
	}
	return id
}

const testPeerID = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher(10)

	if d == nil {
		t.Fatal("NewDispatcher returned nil")
	}
	if d.events == nil {
		t.Error("events channel should be initialized")
	}
	if d.IsClosed() {
		t.Error("dispatcher should not be closed initially")
	}
}

func TestDispatcher_Emit(t *testing.T) {
	d := NewDispatcher(10)
	defer d.Close()

	peerID := mustParsePeerID(t, testPeerID)
	testErr := errors.New("reservation refused")
	testTime := time.Unix(1_700_000_000, 0)

	ok := d.Emit(StatusEvent{
		Kind:      3,
		Phase:     connection.PhaseSelfBootstrapping,
		PeerID:    peerID,
		Error:     testErr,
		Timestamp: testTime,
	})
	if !ok {
		t.Fatal("Emit should succeed with free buffer")
	}

	select {
	case evt := <-d.Events():
		if evt.PeerID != peerID {
			t.Errorf("PeerID = %v, want %v", evt.PeerID, peerID)
		}
		if evt.Phase != connection.PhaseSelfBootstrapping {
			t.Errorf("Phase = %v, want SelfBootstrapping", evt.Phase)
		}
		if evt.Error != testErr || !evt.IsError() {
			t.Errorf("Error = %v, want %v", evt.Error, testErr)
		}
		if !evt.Timestamp.Equal(testTime) {
			t.Errorf("Timestamp = %v, want %v", evt.Timestamp, testTime)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestDispatcher_EmitStampsTime(t *testing.T) {
	d := NewDispatcher(1)
	defer d.Close()

	d.Emit(StatusEvent{})
	evt := <-d.Events()
	if evt.Timestamp.IsZero() {
		t.Error("Emit should set a timestamp when none is given")
	}
}

func TestDispatcher_Emit_FullBuffer(t *testing.T) {
	bufferSize := 5
	d := NewDispatcher(bufferSize)
	defer d.Close()

	for i := 0; i < bufferSize; i++ {
		if !d.Emit(StatusEvent{Phase: connection.PhaseIdle}) {
			t.Fatalf("Emit %d should succeed", i)
		}
	}

	// One more is dropped without blocking.
	if d.Emit(StatusEvent{Phase: connection.PhaseDiscoveryRequested}) {
		t.Error("Emit should report a drop on a full buffer")
	}

	for i := 0; i < bufferSize; i++ {
		if evt := <-d.Events(); evt.Phase != connection.PhaseIdle {
			t.Errorf("event %d phase = %v, want Idle", i, evt.Phase)
		}
	}

	select {
	case <-d.Events():
		t.Error("should not receive dropped event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher(10)

	d.Close()
	d.Close()

	if !d.IsClosed() {
		t.Error("dispatcher should be closed after Close()")
	}

	select {
	case _, ok := <-d.Events():
		if ok {
			t.Error("events channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("should be able to read from closed channel immediately")
	}
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	d := NewDispatcher(10)
	d.Close()

	if d.Emit(StatusEvent{}) {
		t.Error("Emit after Close should report a drop")
	}
}

func TestDispatcher_Concurrent(t *testing.T) {
	d := NewDispatcher(100)
	defer d.Close()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				d.Emit(StatusEvent{Phase: connection.PhaseDialingDiscoveredPeers})
			}
		}()
	}
	wg.Wait()

	if got := len(d.Events()); got != 100 {
		t.Errorf("buffered events = %d, want 100", got)
	}
}
