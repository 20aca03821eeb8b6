package swarm

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	multistream "github.com/multiformats/go-multistream"
)

// prober learns the identity behind an address that carries no peer
// component. It runs only the security handshake and hangs up; the real
// connection is then dialed through the host with the learned id.
type prober struct {
	dialer    manet.Dialer
	transport *noise.SessionTransport
}

func newProber(priv crypto.PrivKey) (*prober, error) {
	tpt, err := noise.New(noise.ID, priv, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe transport: %w", err)
	}
	session, err := tpt.WithSessionOptions(noise.DisablePeerIDCheck())
	if err != nil {
		return nil, fmt.Errorf("failed to create probe session: %w", err)
	}
	return &prober{transport: session}, nil
}

// probe returns the peer id of the node listening at addr.
func (p *prober) probe(ctx context.Context, addr multiaddr.Multiaddr) (peer.ID, error) {
	conn, err := p.dialer.DialContext(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("probe dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := multistream.SelectProtoOrFail(noise.ID, conn); err != nil {
		return "", fmt.Errorf("probe negotiate %s: %w", addr, err)
	}

	sconn, err := p.transport.SecureOutbound(ctx, conn, "")
	if err != nil {
		return "", fmt.Errorf("probe handshake %s: %w", addr, err)
	}
	defer sconn.Close()

	return sconn.RemotePeer(), nil
}
