// Package identity implements the Ed25519 key material and NetworkId
// derivation shared by every component that authenticates or names a peer.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// NetworkID is SHA256(PublicKey), the canonical identifier of an identity
// or a server on the network.
type NetworkID [sha256.Size]byte

// ComputeNetworkID derives the NetworkId for a given Ed25519 public key.
func ComputeNetworkID(pub ed25519.PublicKey) NetworkID {
	return sha256.Sum256(pub)
}

func (id NetworkID) String() string {
	return hexEncode(id[:])
}

// Bytes returns the raw 32-byte identifier.
func (id NetworkID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// NetworkIDFromBytes validates and wraps a raw byte string as a NetworkID.
func NetworkIDFromBytes(b []byte) (NetworkID, error) {
	var id NetworkID
	if len(b) != len(id) {
		return id, errors.Errorf("identity: network id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NetworkIDFromHex parses a hex-encoded NetworkID as produced by String().
func NetworkIDFromHex(s string) (NetworkID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NetworkID{}, errors.Wrap(err, "identity: decode network id hex")
	}
	return NetworkIDFromBytes(b)
}

// KeyPair is a server or identity's Ed25519 key material.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair using a CSPRNG.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "identity: generate ed25519 key pair")
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// NetworkID derives this key pair's NetworkId.
func (kp KeyPair) NetworkID() NetworkID {
	return ComputeNetworkID(kp.Public)
}

// Sign produces a detached Ed25519 signature over msg.
func (kp KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.Private, msg)
}

// Verify checks a detached Ed25519 signature against a raw public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// NewChallenge returns a fresh 32-byte random challenge for the
// StartConversation / VerifyIdentity handshake.
func NewChallenge() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "identity: generate challenge")
	}
	return buf, nil
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
