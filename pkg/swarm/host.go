package swarm

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/config"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
)

// hostConfig contains configuration for creating the libp2p host.
type hostConfig struct {
	// PrivateKey is the host identity.
	PrivateKey crypto.PrivKey

	ProtocolVersion string
	AgentVersion    string

	// ConnMgrLowWater is the low watermark for the connection manager.
	// Connections will be trimmed when above high watermark.
	ConnMgrLowWater int

	// ConnMgrHighWater is the high watermark for the connection manager.
	ConnMgrHighWater int

	NATPortMap bool

	// Tracer observes hole punching.
	Tracer holepunch.EventTracer

	// AddrsFactory rewrites the advertised address set, used to announce
	// relay reservation addresses.
	AddrsFactory config.AddrsFactory
}

// newHost creates a libp2p host with no listeners. Listen addresses are
// added later through Swarm.Listen.
func newHost(cfg hostConfig) (host.Host, error) {
	connMgr, err := connmgr.NewConnManager(
		cfg.ConnMgrLowWater,
		cfg.ConnMgrHighWater,
		connmgr.WithGracePeriod(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivateKey),
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(connMgr),
		libp2p.ProtocolVersion(cfg.ProtocolVersion),
		libp2p.UserAgent(cfg.AgentVersion),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(holepunch.WithTracer(cfg.Tracer)),
	}

	if cfg.AddrsFactory != nil {
		opts = append(opts, libp2p.AddrsFactory(cfg.AddrsFactory))
	}
	if cfg.NATPortMap {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	return h, nil
}
