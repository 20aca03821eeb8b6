package address

import (
	"crypto/rand"
	"errors"
	"net"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to derive peer id: %v", err)
	}
	return id
}

func TestParse_RoundTrip(t *testing.T) {
	relay := testPeerID(t)
	target := testPeerID(t)

	inputs := []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip4/0.0.0.0/tcp/0",
		"/ip6/::1/tcp/4001",
		"/ip4/10.0.0.1/tcp/4001/p2p/" + relay.String(),
		"/ip4/10.0.0.1/tcp/4001/p2p/" + relay.String() + "/p2p-circuit",
		"/ip4/10.0.0.1/tcp/4001/p2p/" + relay.String() + "/p2p-circuit/p2p/" + target.String(),
	}

	for _, in := range inputs {
		got, err := Canonical(in)
		if err != nil {
			t.Errorf("Canonical(%q) failed: %v", in, err)
			continue
		}
		if got != in {
			t.Errorf("Canonical(%q) = %q", in, got)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrEmptyAddress) {
		t.Errorf("Parse(\"\") error = %v, want ErrEmptyAddress", err)
	}
	for _, in := range []string{"not-an-address", "/ip4/999.0.0.1/tcp/1", "/ip4/127.0.0.1/tcp/notaport"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestLocalListen(t *testing.T) {
	tests := []struct {
		ip   net.IP
		port uint16
		want string
	}{
		{nil, 0, "/ip4/0.0.0.0/tcp/0"},
		{nil, 4001, "/ip4/0.0.0.0/tcp/4001"},
		{net.ParseIP("127.0.0.1"), 9000, "/ip4/127.0.0.1/tcp/9000"},
		{net.ParseIP("::1"), 9000, "/ip6/::1/tcp/9000"},
	}

	for _, tt := range tests {
		if got := LocalListen(tt.ip, tt.port).String(); got != tt.want {
			t.Errorf("LocalListen(%v, %d) = %q, want %q", tt.ip, tt.port, got, tt.want)
		}
	}
}

func TestWithPeer(t *testing.T) {
	id := testPeerID(t)
	base := multiaddr.StringCast("/ip4/127.0.0.1/tcp/4001")

	full, err := WithPeer(base, id)
	if err != nil {
		t.Fatalf("WithPeer failed: %v", err)
	}
	want := "/ip4/127.0.0.1/tcp/4001/p2p/" + id.String()
	if full.String() != want {
		t.Errorf("WithPeer = %q, want %q", full, want)
	}

	// Already qualified with the same peer: unchanged.
	again, err := WithPeer(full, id)
	if err != nil {
		t.Fatalf("WithPeer on qualified address failed: %v", err)
	}
	if !again.Equal(full) {
		t.Errorf("WithPeer should not append twice: %s", again)
	}

	// Qualified with another peer: rejected.
	if _, err := WithPeer(full, testPeerID(t)); !errors.Is(err, ErrPeerMismatch) {
		t.Errorf("WithPeer mismatch error = %v, want ErrPeerMismatch", err)
	}
}

func TestCircuitTo(t *testing.T) {
	relay := testPeerID(t)
	target := testPeerID(t)
	relayAddr := multiaddr.StringCast("/ip4/127.0.0.1/tcp/4001/p2p/" + relay.String())

	listen := Circuit(relayAddr)
	if want := relayAddr.String() + "/p2p-circuit"; listen.String() != want {
		t.Errorf("Circuit = %q, want %q", listen, want)
	}
	if !IsCircuit(listen) {
		t.Error("circuit listen address should be a circuit")
	}
	if _, ok := PeerID(listen); ok {
		t.Error("circuit listen address should not have a trailing peer")
	}

	dial, err := CircuitTo(relayAddr, target)
	if err != nil {
		t.Fatalf("CircuitTo failed: %v", err)
	}
	if want := relayAddr.String() + "/p2p-circuit/p2p/" + target.String(); dial.String() != want {
		t.Errorf("CircuitTo = %q, want %q", dial, want)
	}
	if id, ok := PeerID(dial); !ok || id != target {
		t.Errorf("PeerID(dial) = %s, %v; want %s", id, ok, target)
	}
	if IsCircuit(relayAddr) {
		t.Error("direct address should not be a circuit")
	}
}

func TestRelay(t *testing.T) {
	relay := testPeerID(t)
	target := testPeerID(t)
	relayAddr := multiaddr.StringCast("/ip4/127.0.0.1/tcp/4001/p2p/" + relay.String())

	dial, err := CircuitTo(relayAddr, target)
	if err != nil {
		t.Fatalf("CircuitTo failed: %v", err)
	}

	info, err := Relay(dial)
	if err != nil {
		t.Fatalf("Relay failed: %v", err)
	}
	if info.ID != relay {
		t.Errorf("relay ID = %s, want %s", info.ID, relay)
	}
	if len(info.Addrs) != 1 || info.Addrs[0].String() != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("relay addrs = %v", info.Addrs)
	}

	if _, err := Relay(relayAddr); !errors.Is(err, ErrNotCircuit) {
		t.Errorf("Relay(direct) error = %v, want ErrNotCircuit", err)
	}
}

func TestSplit(t *testing.T) {
	id := testPeerID(t)
	addr := multiaddr.StringCast("/ip4/127.0.0.1/tcp/4001/p2p/" + id.String())

	transport, got, err := Split(addr)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if got != id || transport.String() != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("Split = %s, %s", transport, got)
	}

	if _, _, err := Split(transport); !errors.Is(err, ErrNoPeerID) {
		t.Errorf("Split without peer error = %v, want ErrNoPeerID", err)
	}
}
