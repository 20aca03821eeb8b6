package oru

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Great1ng/oru/internal/testutil"
	"github.com/Great1ng/oru/pkg/address"
	"github.com/Great1ng/oru/pkg/swarm"
)

const testIntroducer = "/ip4/10.0.0.1/tcp/4001"

func mustParseMultiaddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("failed to parse multiaddr %q: %v", s, err)
	}
	return ma
}

// newTestNode binds a node to a scripted swarm.
func newTestNode(t *testing.T, opts ...ConfigOption) (*Node, *testutil.MockSwarm) {
	t.Helper()

	sw := testutil.NewMockSwarm()
	opts = append([]ConfigOption{WithStartupGrace(time.Millisecond)}, opts...)
	cfg := NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	n := newNodeWithSwarm(cfg, sw)
	t.Cleanup(func() { _ = n.Close() })
	return n, sw
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func identifySent(p peer.ID) swarm.IdentifyEvent {
	return swarm.IdentifyEvent{Kind: swarm.IdentifySent, Peer: p}
}

func identifyReceived(p peer.ID, observed multiaddr.Multiaddr) swarm.IdentifyEvent {
	return swarm.IdentifyEvent{
		Kind:            swarm.IdentifyReceived,
		Peer:            p,
		ObservedAddr:    observed,
		ProtocolVersion: CurrentVersion().Identify(),
	}
}

func TestNode_Connect_AddressExchange(t *testing.T) {
	observed := mustParseMultiaddr(t, "/ip4/203.0.113.7/tcp/40123")

	tests := []struct {
		name   string
		script func(introducer peer.ID) []swarm.Event
	}{
		{
			name: "sent then received with duplicates",
			script: func(p peer.ID) []swarm.Event {
				return []swarm.Event{
					identifySent(p),
					identifyReceived(p, observed),
					identifySent(p),
					identifyReceived(p, observed),
				}
			},
		},
		{
			name: "received then sent",
			script: func(p peer.ID) []swarm.Event {
				return []swarm.Event{
					identifyReceived(p, observed),
					identifySent(p),
					identifySent(p),
					identifyReceived(p, observed),
				}
			},
		},
		{
			name: "unrelated events interleaved",
			script: func(p peer.ID) []swarm.Event {
				return []swarm.Event{
					swarm.NetworkEvent{Kind: swarm.ConnectionEstablished, Peer: p},
					identifyReceived(p, observed),
					swarm.IdentifyEvent{Kind: swarm.IdentifyError, Peer: testutil.NewPeerID(), Err: errors.New("reset")},
					swarm.NetworkEvent{Kind: swarm.DialFailed, Addr: mustParseMultiaddr(t, "/ip4/10.0.0.9/tcp/4001"), Err: errors.New("refused")},
					swarm.HolePunchEvent{Kind: swarm.HolePunchStarted, Peer: p},
					identifySent(p),
					identifySent(p),
					identifyReceived(p, observed),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sw := newTestNode(t)
			introducer := testutil.NewPeerID()
			script := tt.script(introducer)
			sw.Push(script...)

			conn, err := n.Connect(testContext(t), testIntroducer, 4002)
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			defer conn.Close()

			if conn.RendezvousID() != introducer {
				t.Errorf("RendezvousID() = %s, want %s", conn.RendezvousID(), introducer)
			}

			want, _ := address.WithPeer(mustParseMultiaddr(t, testIntroducer), introducer)
			if !conn.RendezvousAddr().Equal(want) {
				t.Errorf("RendezvousAddr() = %s, want %s", conn.RendezvousAddr(), want)
			}

			if got := n.PublicAddr(); got == nil || !got.Equal(observed) {
				t.Errorf("PublicAddr() = %v, want %s", got, observed)
			}

			// Only the events up to the second fact are consumed; the
			// duplicates remain queued.
			if left := len(sw.Events()); left != 2 {
				t.Errorf("events left in stream = %d, want 2", left)
			}

			listens := sw.Listens()
			if len(listens) != 1 || listens[0].String() != "/ip4/0.0.0.0/tcp/4002" {
				t.Errorf("Listen calls = %v, want [/ip4/0.0.0.0/tcp/4002]", listens)
			}
			dials := sw.Dials()
			if len(dials) != 1 || dials[0].String() != testIntroducer {
				t.Errorf("Dial calls = %v, want [%s]", dials, testIntroducer)
			}
		})
	}
}

func TestNode_Connect_IntroducerWithPeerID(t *testing.T) {
	n, sw := newTestNode(t)
	introducer := testutil.NewPeerID()
	observed := mustParseMultiaddr(t, "/ip4/203.0.113.7/tcp/40123")

	addr := testIntroducer + "/p2p/" + introducer.String()
	sw.Push(identifySent(introducer), identifyReceived(introducer, observed))

	conn, err := n.Connect(testContext(t), addr, 0)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	if got := conn.RendezvousAddr().String(); got != addr {
		t.Errorf("RendezvousAddr() = %s, want %s (peer id must not be appended twice)", got, addr)
	}
}

func TestNode_Connect_IntroducerPeerMismatch(t *testing.T) {
	n, sw := newTestNode(t)
	claimed := testutil.NewPeerID()
	actual := testutil.NewPeerID()
	observed := mustParseMultiaddr(t, "/ip4/203.0.113.7/tcp/40123")

	sw.Push(identifySent(actual), identifyReceived(actual, observed))

	_, err := n.Connect(testContext(t), testIntroducer+"/p2p/"+claimed.String(), 0)
	if !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("Connect() error = %v, want ErrBootstrapFailed", err)
	}
}

func TestNode_Connect_IntroducerUnreachable(t *testing.T) {
	introducer := testutil.NewPeerID()
	withPeer := testIntroducer + "/p2p/" + introducer.String()

	tests := []struct {
		name   string
		addr   string
		script func(t *testing.T) []swarm.Event
	}{
		{
			name: "dial failed",
			addr: testIntroducer,
			script: func(t *testing.T) []swarm.Event {
				return []swarm.Event{
					swarm.NetworkEvent{Kind: swarm.DialFailed, Addr: mustParseMultiaddr(t, testIntroducer), Err: errors.New("connection refused")},
				}
			},
		},
		{
			name: "dial failed with peer id",
			addr: withPeer,
			script: func(t *testing.T) []swarm.Event {
				return []swarm.Event{
					swarm.NetworkEvent{Kind: swarm.DialFailed, Peer: introducer, Addr: mustParseMultiaddr(t, withPeer), Err: errors.New("no route")},
				}
			},
		},
		{
			name: "identify failed with addressed introducer",
			addr: withPeer,
			script: func(t *testing.T) []swarm.Event {
				return []swarm.Event{
					identifySent(introducer),
					swarm.IdentifyEvent{Kind: swarm.IdentifyError, Peer: introducer, Err: errors.New("stream reset")},
				}
			},
		},
		{
			name: "identify failed after dialing introducer",
			addr: testIntroducer,
			script: func(t *testing.T) []swarm.Event {
				return []swarm.Event{
					swarm.NetworkEvent{
						Kind:      swarm.ConnectionEstablished,
						Peer:      introducer,
						Addr:      mustParseMultiaddr(t, testIntroducer),
						Direction: network.DirOutbound,
					},
					swarm.IdentifyEvent{Kind: swarm.IdentifyError, Peer: introducer, Err: errors.New("stream reset")},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sw := newTestNode(t)
			sw.Push(tt.script(t)...)

			_, err := n.Connect(testContext(t), tt.addr, 4002)
			if !errors.Is(err, ErrBootstrapFailed) {
				t.Fatalf("Connect() error = %v, want ErrBootstrapFailed", err)
			}
			if open := sw.OpenListeners(); len(open) != 0 {
				t.Errorf("listeners left open after failed Connect: %v", open)
			}
		})
	}
}

func TestNode_Connect_RetryReusesPort(t *testing.T) {
	n, sw := newTestNode(t)
	introducer := testutil.NewPeerID()
	observed := mustParseMultiaddr(t, "/ip4/203.0.113.7/tcp/40123")

	sw.Push(swarm.NetworkEvent{Kind: swarm.DialFailed, Addr: mustParseMultiaddr(t, testIntroducer), Err: errors.New("connection refused")})
	if _, err := n.Connect(testContext(t), testIntroducer, 4002); !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("first Connect() error = %v, want ErrBootstrapFailed", err)
	}

	sw.Push(identifySent(introducer), identifyReceived(introducer, observed))
	conn, err := n.Connect(testContext(t), testIntroducer, 4002)
	if err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	defer conn.Close()

	open := sw.OpenListeners()
	if len(open) != 1 || open[0].String() != "/ip4/0.0.0.0/tcp/4002" {
		t.Errorf("open listeners = %v, want [/ip4/0.0.0.0/tcp/4002]", open)
	}
	if removed := sw.Removed(); len(removed) != 1 {
		t.Errorf("RemoveListener calls = %v, want 1", removed)
	}
}

func TestNode_Connect_StreamEnds(t *testing.T) {
	n, sw := newTestNode(t)
	sw.Push(identifySent(testutil.NewPeerID()))
	sw.CloseEvents()

	_, err := n.Connect(testContext(t), testIntroducer, 0)
	if !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("Connect() error = %v, want ErrBootstrapFailed", err)
	}

	// The lease is released on failure.
	_, err = n.Connect(testContext(t), testIntroducer, 0)
	if errors.Is(err, ErrNodeBusy) {
		t.Fatal("lease was not released after a failed Connect")
	}
}

func TestNode_Connect_Busy(t *testing.T) {
	n, sw := newTestNode(t)
	introducer := testutil.NewPeerID()
	observed := mustParseMultiaddr(t, "/ip4/203.0.113.7/tcp/40123")

	sw.Push(identifySent(introducer), identifyReceived(introducer, observed))
	conn, err := n.Connect(testContext(t), testIntroducer, 0)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	_, err = n.Connect(testContext(t), testIntroducer, 0)
	if !errors.Is(err, ErrNodeBusy) {
		t.Fatalf("second Connect() error = %v, want ErrNodeBusy", err)
	}
	if !IsRetriable(err) {
		t.Error("ErrNodeBusy should be retriable")
	}

	// The busy Connect must not have touched the loop.
	if got := len(sw.Dials()); got != 1 {
		t.Errorf("Dial calls = %d, want 1", got)
	}

	conn.Close()

	sw.Push(identifySent(introducer), identifyReceived(introducer, observed))
	conn, err = n.Connect(testContext(t), testIntroducer, 0)
	if err != nil {
		t.Fatalf("Connect() after release error = %v", err)
	}
	conn.Close()
}

func TestNode_Connect_Errors(t *testing.T) {
	tests := []struct {
		name       string
		introducer string
		setup      func(*testutil.MockSwarm)
		want       error
	}{
		{
			name:       "empty address",
			introducer: "",
			want:       ErrParse,
		},
		{
			name:       "malformed address",
			introducer: "not-a-multiaddr",
			want:       ErrParse,
		},
		{
			name:       "relayed introducer",
			introducer: "/ip4/10.0.0.1/tcp/4001/p2p/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSoooo4/p2p-circuit",
			want:       ErrParse,
		},
		{
			name:       "listen fails",
			introducer: testIntroducer,
			setup:      func(m *testutil.MockSwarm) { m.SetListenErr(errors.New("address in use")) },
			want:       ErrListenFailed,
		},
		{
			name:       "dial fails",
			introducer: testIntroducer,
			setup: func(m *testutil.MockSwarm) {
				m.SetDialErr(func(multiaddr.Multiaddr) error { return errors.New("no route") })
			},
			want: ErrDialFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sw := newTestNode(t)
			if tt.setup != nil {
				tt.setup(sw)
			}

			_, err := n.Connect(testContext(t), tt.introducer, 0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.want)
			}
			if !IsFatal(err) {
				t.Errorf("IsFatal(%v) = false", err)
			}
		})
	}
}

func TestNode_Connect_ContextCanceled(t *testing.T) {
	n, sw := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := n.Connect(ctx, testIntroducer, 0)
	if ErrorCodeOf(err) != ErrCodeContextCanceled {
		t.Fatalf("Connect() error = %v, want ErrCodeContextCanceled", err)
	}
	if IsFatal(err) {
		t.Error("cancellation should not be fatal")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("cancellation should wrap context.Canceled")
	}
	if open := sw.OpenListeners(); len(open) != 0 {
		t.Errorf("listeners left open after cancelled Connect: %v", open)
	}
}

func TestNode_Connect_Closed(t *testing.T) {
	n, sw := newTestNode(t)
	if err := n.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if sw.CloseCalls() != 1 {
		t.Errorf("loop closed %d times, want 1", sw.CloseCalls())
	}

	_, err := n.Connect(testContext(t), testIntroducer, 0)
	if !errors.Is(err, ErrNodeClosed) {
		t.Fatalf("Connect() error = %v, want ErrNodeClosed", err)
	}

	if _, ok := <-n.Status(); ok {
		t.Error("status channel should be closed")
	}
}

func TestNode_WaitForReservation(t *testing.T) {
	relay := testutil.NewPeerID()

	tests := []struct {
		name   string
		script []swarm.Event
		close  bool
		want   bool
	}{
		{
			name: "accepted after unrelated events",
			script: []swarm.Event{
				swarm.NetworkEvent{Kind: swarm.NewListenAddr},
				identifySent(relay),
				swarm.RelayEvent{Kind: swarm.CircuitEstablished, Relay: relay},
				swarm.RelayEvent{Kind: swarm.ReservationAccepted, Relay: relay, Expiration: time.Now().Add(time.Hour)},
			},
			want: true,
		},
		{
			name: "failed",
			script: []swarm.Event{
				swarm.RelayEvent{Kind: swarm.ReservationFailed, Relay: relay, Err: errors.New("NO_RESERVATION")},
			},
			want: false,
		},
		{
			name:  "stream ends",
			close: true,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sw := newTestNode(t)
			sw.Push(tt.script...)
			if tt.close {
				sw.CloseEvents()
			}

			got, err := n.waitForReservation(testContext(t))
			if err != nil {
				t.Fatalf("waitForReservation() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("waitForReservation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNode_New_Defaults(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	defer n.Close()

	if n.ID() == "" {
		t.Error("expected a generated identity")
	}
	pub, err := n.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil || id != n.ID() {
		t.Errorf("PublicKey() does not match ID(): %v", err)
	}
	if n.PublicAddr() != nil {
		t.Error("PublicAddr() should be nil before Connect")
	}
}

func TestNode_New_InvalidConfig(t *testing.T) {
	_, err := New(&Config{StartupGrace: -time.Second})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}
