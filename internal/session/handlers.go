package session

import (
	"context"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// HandshakeDeps are the dependencies the handshake handlers need: the
// server's own key material, for signing the client's challenge and
// proving its own identity, and the process-wide authenticated-session
// registry, for installing a session once VerifyIdentity succeeds.
type HandshakeDeps struct {
	ServerKeyPair identity.KeyPair
	Registry      *Registry
	Metrics       *metrics.Registry
}

// BuildDispatcher registers the handshake and role-discovery handlers
// every role accepts, per spec.md §4.6's conversation state machine.
// Role-specific request handlers (RegisterHosting, CheckIn, UpdateProfile,
// ProfileSearch, neighborhood messages, ...) are registered on top of this
// base by the role-specific wiring in cmd/profileserver.
func BuildDispatcher(deps HandshakeDeps) *Dispatcher {
	d := NewDispatcher()
	d.Register(transport.KindStartConversation, startConversationHandler(deps), StateNone)
	d.Register(transport.KindVerifyIdentity, verifyIdentityHandler(deps), StateStarted)
	d.Register(transport.KindListRoles, listRolesHandler(), StateNone, StateStarted, StateAuthenticated)
	return d
}

func startConversationHandler(deps HandshakeDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload StartConversationRequest
		if err := decodePayload(req.Payload, &payload); err != nil || len(payload.ChallengeFromClient) != 32 {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		serverChallenge, err := identity.NewChallenge()
		if err != nil {
			return transport.Response{Status: transport.StatusErrorInternal}, Disconnect
		}

		sess.ChallengeFromClient = payload.ChallengeFromClient
		sess.ChallengeFromServer = serverChallenge
		sess.SetState(StateStarted)

		resp := StartConversationResponse{
			ServerPublicKey:       []byte(deps.ServerKeyPair.Public),
			ChallengeFromServer:   serverChallenge,
			SignedClientChallenge: deps.ServerKeyPair.Sign(payload.ChallengeFromClient),
		}
		return transport.Response{Status: transport.StatusOk, Payload: resp}, Continue
	}
}

func verifyIdentityHandler(deps HandshakeDeps) Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		var payload VerifyIdentityRequest
		if err := decodePayload(req.Payload, &payload); err != nil {
			return transport.Response{Status: transport.StatusErrorProtocolViolation}, Disconnect
		}

		if !identity.Verify(payload.ClientPublicKey, sess.ChallengeFromServer, payload.SignedServerChallenge) {
			return transport.Response{Status: transport.StatusErrorInvalidSignature}, Disconnect
		}

		id := AuthenticatedIdentity(payload.ClientPublicKey)
		sess.Authenticate(id)
		deps.Registry.Insert(id.NetworkID, sess)
		if deps.Metrics != nil {
			deps.Metrics.SessionsOnline.Set(float64(deps.Registry.Count()))
		}

		return transport.Response{Status: transport.StatusOk}, Continue
	}
}

func listRolesHandler() Handler {
	return func(ctx context.Context, sess *Session, req transport.Request) (transport.Response, Outcome) {
		resp := ListRolesResponse{Roles: []RoleInfo{{Role: sess.Role.ID, Port: sess.Role.Port}}}
		return transport.Response{Status: transport.StatusOk, Payload: resp}, Continue
	}
}
