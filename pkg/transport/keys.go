// Package transport joins a walletd node to the peer-to-peer discovery
// fabric under an identity derived from a persisted seed.
//
// A node is addressed purely by its ed25519 public key, rendered as 64 hex
// characters for out-of-band distribution. The fabric is a libp2p Kademlia
// DHT; the host returned by Join resolves peers known only by key through it.
package transport

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyFromSeed derives the node keypair from a 32-byte seed. The same seed
// always yields the same key.
func KeyFromSeed(seed []byte) (crypto.PrivKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv, err := crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed))
	if err != nil {
		return nil, fmt.Errorf("derive ed25519 key: %w", err)
	}
	return priv, nil
}

// PublicKeyHex renders a public key as lowercase hex of its raw bytes.
func PublicKeyHex(pub crypto.PubKey) (string, error) {
	raw, err := pub.Raw()
	if err != nil {
		return "", fmt.Errorf("raw public key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// PeerIDHex renders the public key embedded in an ed25519 peer ID.
func PeerIDHex(id peer.ID) (string, error) {
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return "", fmt.Errorf("extract public key from %s: %w", id, err)
	}
	return PublicKeyHex(pub)
}

// ParsePublicKey parses a hex ed25519 public key into the peer ID used to
// reach that node.
func ParsePublicKey(s string) (peer.ID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("unmarshal public key: %w", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("peer id from public key: %w", err)
	}
	return id, nil
}
