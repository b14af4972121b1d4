package neighborhood

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// dialTimeout bounds how long a single peer conversation may take to
// connect and complete its handshake before the action is treated as a
// transient failure and retried.
const dialTimeout = 10 * time.Second

// startConversationRequest/startConversationResponse/verifyIdentityRequest
// mirror the wire shapes internal/session's handshake handlers decode, so
// this client and that server agree on the same conversation without this
// package importing internal/session.
type startConversationRequest struct {
	ChallengeFromClient []byte `msgpack:"challenge_from_client"`
}

type startConversationResponse struct {
	ServerPublicKey       []byte `msgpack:"server_public_key"`
	ChallengeFromServer   []byte `msgpack:"challenge_from_server"`
	SignedClientChallenge []byte `msgpack:"signed_client_challenge"`
}

type verifyIdentityRequest struct {
	ClientPublicKey       []byte `msgpack:"client_public_key"`
	SignedServerChallenge []byte `msgpack:"signed_server_challenge"`
}

// initializeProfilesRequest/shareProfileUpdateRequest/refreshLivenessRequest/
// stopUpdatesRequest are the payloads for the neighborhood-specific Kinds.
// Field names and msgpack tags are the shared wire contract with
// internal/session's own (unexported) mirror structs; the Dispatcher
// handlers that answer them are registered by internal/session, not by
// this package.
type initializeProfilesRequest struct {
	BatchSize int `msgpack:"batch_size"`
}

type shareProfileUpdateRequest struct {
	ActionType       string              `msgpack:"action_type"`
	TargetIdentityID *identity.NetworkID `msgpack:"target_identity_id"`
	ProfileSnapshot  string              `msgpack:"profile_snapshot"`
}

type refreshLivenessRequest struct{}

type stopUpdatesRequest struct{}

type finishInitRequest struct{}

// initializeByteCeiling bounds bytes-per-batch for InitializeProfiles
// streaming, alongside initializeBatchSize's items-per-batch ceiling, per
// spec.md §4.8 step 4.
const initializeByteCeiling = 256 * 1024

// TCPPeerClient is the real PeerClient: it dials the target's server-
// neighbor port (falling back to its primary port), carries out the same
// StartConversation/VerifyIdentity handshake internal/session's Dispatcher
// answers, and sends the type-specific follow-up request.
type TCPPeerClient struct {
	identity  identity.KeyPair
	tlsConfig *tls.Config
	logger    *zap.Logger
}

// NewTCPPeerClient wires this server's own key pair (used to answer the
// peer's identity challenge) and the TLS client config into a PeerClient.
func NewTCPPeerClient(kp identity.KeyPair, tlsConfig *tls.Config, logger *zap.Logger) *TCPPeerClient {
	return &TCPPeerClient{identity: kp, tlsConfig: tlsConfig, logger: logger.Named("peer_client")}
}

// InitializeProfiles opens a single conversation with target and streams
// every hosted profile across it: a StartNeighborhoodInitialization ack,
// then one NeighborhoodSharedProfileUpdate per profile (batched so no more
// than initializeBatchSize items or initializeByteCeiling encoded bytes
// are in flight within a batch before the running totals reset), and
// finally a FinishNeighborhoodInitialization, per spec.md §4.8 step 4.
func (c *TCPPeerClient) InitializeProfiles(ctx context.Context, target NeighborView, profiles []HostedProfile) error {
	conn, err := c.dial(ctx, target)
	if err != nil {
		return &TransientError{Reason: err.Error()}
	}
	defer conn.Close()

	wire := transport.NewConn(conn)
	if err := c.handshake(wire, target); err != nil {
		return err
	}

	var msgID uint32 = 1
	roundTrip := func(kind transport.Kind, payload interface{}) error {
		if err := wire.WriteMessage(transport.Message{Id: msgID, Request: &transport.Request{Kind: kind, Payload: payload}}); err != nil {
			return &TransientError{Reason: err.Error()}
		}
		msgID++
		reply, err := wire.ReadMessage()
		if err != nil {
			return &TransientError{Reason: err.Error()}
		}
		if reply.Response == nil {
			return &TransientError{Reason: "peer sent no response"}
		}
		return statusToError(reply.Response.Status)
	}

	if err := roundTrip(transport.KindStartNeighborhoodInitialization, initializeProfilesRequest{BatchSize: initializeBatchSize}); err != nil {
		return err
	}

	batchItems, batchBytes := 0, 0
	for _, profile := range profiles {
		snapshot, err := store.EncodeProfileSnapshot(profile.Snapshot)
		if err != nil {
			return &RejectError{Reason: err.Error()}
		}
		if batchItems >= initializeBatchSize || batchBytes+len(snapshot) > initializeByteCeiling {
			batchItems, batchBytes = 0, 0
		}
		batchItems++
		batchBytes += len(snapshot)

		targetID := profile.TargetIdentityID
		if err := roundTrip(transport.KindNeighborhoodSharedProfileUpdate, shareProfileUpdateRequest{
			ActionType:       string(store.ActionAddProfile),
			TargetIdentityID: &targetID,
			ProfileSnapshot:  snapshot,
		}); err != nil {
			return err
		}
	}

	return roundTrip(transport.KindFinishNeighborhoodInitialization, finishInitRequest{})
}

func (c *TCPPeerClient) ShareProfileUpdate(ctx context.Context, target NeighborView, action store.NeighborhoodAction) error {
	return c.converse(ctx, target, transport.KindNeighborhoodSharedProfileUpdate, shareProfileUpdateRequest{
		ActionType:       string(action.Type),
		TargetIdentityID: action.TargetIdentityID,
		ProfileSnapshot:  action.AdditionalData,
	})
}

func (c *TCPPeerClient) RefreshLiveness(ctx context.Context, target NeighborView) error {
	return c.converse(ctx, target, transport.KindFinishNeighborhoodInitialization, refreshLivenessRequest{})
}

func (c *TCPPeerClient) NotifyStopUpdates(ctx context.Context, target NeighborView) error {
	return c.converse(ctx, target, transport.KindStopNeighborhoodUpdates, stopUpdatesRequest{})
}

// converse dials target, completes the handshake, sends one kind-specific
// request, and translates the response status into the Reject/Transient
// split process() dispatches on.
func (c *TCPPeerClient) converse(ctx context.Context, target NeighborView, kind transport.Kind, payload interface{}) error {
	conn, err := c.dial(ctx, target)
	if err != nil {
		return &TransientError{Reason: err.Error()}
	}
	defer conn.Close()

	wire := transport.NewConn(conn)
	if err := c.handshake(wire, target); err != nil {
		return err
	}

	if err := wire.WriteMessage(transport.Message{Id: 1, Request: &transport.Request{Kind: kind, Payload: payload}}); err != nil {
		return &TransientError{Reason: err.Error()}
	}
	reply, err := wire.ReadMessage()
	if err != nil {
		return &TransientError{Reason: err.Error()}
	}
	if reply.Response == nil {
		return &TransientError{Reason: "peer sent no response"}
	}
	return statusToError(reply.Response.Status)
}

func (c *TCPPeerClient) dial(ctx context.Context, target NeighborView) (net.Conn, error) {
	port := target.PrimaryPort
	if target.SrNeighborPort != nil {
		port = *target.SrNeighborPort
	}
	addr := net.JoinHostPort(target.IP, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: dialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "neighborhood: dial peer")
	}
	if c.tlsConfig == nil {
		return raw, nil
	}
	tlsConn := tls.Client(raw, c.tlsConfig)
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		raw.Close()
		return nil, errors.Wrap(err, "neighborhood: TLS handshake with peer")
	}
	return tlsConn, nil
}

// handshake performs the client side of spec.md §4.6's conversation state
// machine and verifies the peer actually owns target's NetworkId before
// any type-specific request is sent.
func (c *TCPPeerClient) handshake(wire *transport.Conn, target NeighborView) error {
	clientChallenge, err := identity.NewChallenge()
	if err != nil {
		return &TransientError{Reason: err.Error()}
	}

	if err := wire.WriteMessage(transport.Message{Id: 0, Request: &transport.Request{
		Kind:    transport.KindStartConversation,
		Payload: startConversationRequest{ChallengeFromClient: clientChallenge},
	}}); err != nil {
		return &TransientError{Reason: err.Error()}
	}

	started, err := wire.ReadMessage()
	if err != nil || started.Response == nil {
		return &TransientError{Reason: "peer did not answer StartConversation"}
	}
	if started.Response.Status != transport.StatusOk {
		return statusToError(started.Response.Status)
	}

	var resp startConversationResponse
	if err := decodePayload(started.Response.Payload, &resp); err != nil {
		return &TransientError{Reason: err.Error()}
	}
	if identity.ComputeNetworkID(resp.ServerPublicKey) != target.NetworkID {
		return &RejectError{Reason: "peer's public key does not match its advertised NetworkId"}
	}
	if !identity.Verify(resp.ServerPublicKey, clientChallenge, resp.SignedClientChallenge) {
		return &RejectError{Reason: "peer failed to prove its NetworkId"}
	}

	if err := wire.WriteMessage(transport.Message{Id: 0, Request: &transport.Request{
		Kind: transport.KindVerifyIdentity,
		Payload: verifyIdentityRequest{
			ClientPublicKey:       []byte(c.identity.Public),
			SignedServerChallenge: c.identity.Sign(resp.ChallengeFromServer),
		},
	}}); err != nil {
		return &TransientError{Reason: err.Error()}
	}

	verified, err := wire.ReadMessage()
	if err != nil || verified.Response == nil {
		return &TransientError{Reason: "peer did not answer VerifyIdentity"}
	}
	return statusToError(verified.Response.Status)
}

// decodePayload round-trips a generically msgpack-decoded payload back
// through the codec into a concrete type, mirroring internal/session's
// own helper of the same name.
func decodePayload(raw interface{}, out interface{}) error {
	body, err := msgpack.Marshal(raw)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(body, out)
}

func statusToError(status transport.Status) error {
	switch status {
	case transport.StatusOk:
		return nil
	case transport.StatusErrorRejected, transport.StatusErrorNotFound:
		return &RejectError{Reason: status.String()}
	default:
		return &TransientError{Reason: status.String()}
	}
}
