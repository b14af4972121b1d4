package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Internet-of-People/iop-profile-server/internal/fabric"
	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

func newTestDeps(t *testing.T) HandshakeDeps {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return HandshakeDeps{ServerKeyPair: kp, Registry: NewRegistry()}
}

func TestStartConversationHandlerAdvancesToStartedAndSignsChallenge(t *testing.T) {
	deps := newTestDeps(t)
	d := BuildDispatcher(deps)

	conn, _ := net.Pipe()
	defer conn.Close()
	sess := NewSession(conn, fabric.Role{KeepAliveInterval: time.Minute})

	clientChallenge, err := identity.NewChallenge()
	require.NoError(t, err)

	resp, outcome := d.Dispatch(context.Background(), sess, transport.Request{
		Kind:    transport.KindStartConversation,
		Payload: StartConversationRequest{ChallengeFromClient: clientChallenge},
	})

	require.Equal(t, Continue, outcome)
	assert.Equal(t, transport.StatusOk, resp.Status)
	assert.Equal(t, StateStarted, sess.State())

	payload := resp.Payload.(StartConversationResponse)
	assert.True(t, identity.Verify(deps.ServerKeyPair.Public, clientChallenge, payload.SignedClientChallenge))
}

func TestStartConversationHandlerRejectsMalformedChallenge(t *testing.T) {
	deps := newTestDeps(t)
	d := BuildDispatcher(deps)

	conn, _ := net.Pipe()
	defer conn.Close()
	sess := NewSession(conn, fabric.Role{KeepAliveInterval: time.Minute})

	resp, outcome := d.Dispatch(context.Background(), sess, transport.Request{
		Kind:    transport.KindStartConversation,
		Payload: StartConversationRequest{ChallengeFromClient: []byte("too-short")},
	})

	assert.Equal(t, Disconnect, outcome)
	assert.Equal(t, transport.StatusErrorProtocolViolation, resp.Status)
}

func TestVerifyIdentityHandlerAuthenticatesAndRegisters(t *testing.T) {
	deps := newTestDeps(t)
	d := BuildDispatcher(deps)

	conn, _ := net.Pipe()
	defer conn.Close()
	sess := NewSession(conn, fabric.Role{KeepAliveInterval: time.Minute})
	sess.SetState(StateStarted)

	serverChallenge, err := identity.NewChallenge()
	require.NoError(t, err)
	sess.ChallengeFromServer = serverChallenge

	clientKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	resp, outcome := d.Dispatch(context.Background(), sess, transport.Request{
		Kind: transport.KindVerifyIdentity,
		Payload: VerifyIdentityRequest{
			ClientPublicKey:       []byte(clientKP.Public),
			SignedServerChallenge: clientKP.Sign(serverChallenge),
		},
	})

	require.Equal(t, Continue, outcome)
	assert.Equal(t, transport.StatusOk, resp.Status)
	assert.Equal(t, StateAuthenticated, sess.State())

	expectedID := identity.ComputeNetworkID(clientKP.Public)
	got, ok := deps.Registry.Get(expectedID)
	require.True(t, ok)
	assert.Equal(t, sess, got)
}

func TestVerifyIdentityHandlerRejectsBadSignature(t *testing.T) {
	deps := newTestDeps(t)
	d := BuildDispatcher(deps)

	conn, _ := net.Pipe()
	defer conn.Close()
	sess := NewSession(conn, fabric.Role{KeepAliveInterval: time.Minute})
	sess.SetState(StateStarted)
	sess.ChallengeFromServer = []byte("0123456789012345678901234567890a")[:32]

	clientKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	resp, outcome := d.Dispatch(context.Background(), sess, transport.Request{
		Kind: transport.KindVerifyIdentity,
		Payload: VerifyIdentityRequest{
			ClientPublicKey:       []byte(clientKP.Public),
			SignedServerChallenge: []byte("not-a-signature-not-a-signature"),
		},
	})

	assert.Equal(t, Disconnect, outcome)
	assert.Equal(t, transport.StatusErrorInvalidSignature, resp.Status)
}

func TestDispatchRejectsVerifyIdentityBeforeStartConversation(t *testing.T) {
	deps := newTestDeps(t)
	d := BuildDispatcher(deps)

	conn, _ := net.Pipe()
	defer conn.Close()
	sess := NewSession(conn, fabric.Role{KeepAliveInterval: time.Minute})

	resp, outcome := d.Dispatch(context.Background(), sess, transport.Request{Kind: transport.KindVerifyIdentity})

	assert.Equal(t, Disconnect, outcome)
	assert.Equal(t, transport.StatusErrorProtocolViolation, resp.Status)
}
