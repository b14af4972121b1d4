// Package session implements C6, the Session & Message Processor: the
// per-connection conversation state machine, the authenticated-online
// client registry, the unfinished-request table, and message dispatch.
package session

import (
	"crypto/ed25519"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// ConversationState is the per-session state machine from spec.md §4.6.
type ConversationState int

const (
	StateNone ConversationState = iota
	StateStarted
	StateAuthenticated
)

func (s ConversationState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateStarted:
		return "STARTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// PeerIdentity is Anonymous until VerifyIdentity/RegisterHosting/CheckIn
// authenticates the connection, at which point it carries the peer's
// NetworkId and public key.
type PeerIdentity struct {
	Authenticated bool
	NetworkID     identity.NetworkID
	PublicKey     ed25519.PublicKey
}

// Anonymous is the zero-value identity state of a freshly opened session.
var Anonymous = PeerIdentity{}

// AuthenticatedIdentity derives a PeerIdentity from a verified public key,
// per spec.md §4.6's "network_id := SHA256(client_pubkey)".
func AuthenticatedIdentity(pub ed25519.PublicKey) PeerIdentity {
	return PeerIdentity{Authenticated: true, NetworkID: identity.ComputeNetworkID(pub), PublicKey: pub}
}
