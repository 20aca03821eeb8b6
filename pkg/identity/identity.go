// Package identity provides the node's long-lived keypair and the peer
// identifier derived from it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is an Ed25519 keypair together with the peer ID derived from its
// public half. It is immutable once created.
type Identity struct {
	priv crypto.PrivKey
	id   peer.ID
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return fromPrivKey(priv)
}

// FromEd25519 wraps an existing Ed25519 private key.
func FromEd25519(key ed25519.PrivateKey) (*Identity, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key size: expected %d, got %d",
			ed25519.PrivateKeySize, len(key))
	}

	priv, err := crypto.UnmarshalEd25519PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	return fromPrivKey(priv)
}

func fromPrivKey(priv crypto.PrivKey) (*Identity, error) {
	id, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer id: %w", err)
	}
	return &Identity{priv: priv, id: id}, nil
}

// ID returns the peer identifier.
func (i *Identity) ID() peer.ID {
	return i.id
}

// PublicKey returns the public half of the keypair.
func (i *Identity) PublicKey() crypto.PubKey {
	return i.priv.GetPublic()
}

// PrivateKey returns the private key for handing to the transport stack.
// It must not be serialized or logged.
func (i *Identity) PrivateKey() crypto.PrivKey {
	return i.priv
}

// String returns the peer ID in its canonical text form.
func (i *Identity) String() string {
	return i.id.String()
}
