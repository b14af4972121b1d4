package neighborhood

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// fakePeerServer answers the handshake TCPPeerClient.handshake drives,
// then records every subsequent request Kind, replying StatusOk to all of
// them — a stand-in for internal/session's real Dispatcher.
type fakePeerServer struct {
	kp       identity.KeyPair
	received []transport.Kind
}

func startFakePeerServer(t *testing.T, kp identity.KeyPair) (net.Listener, *fakePeerServer) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fakePeerServer{kp: kp}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		wire := transport.NewConn(conn)

		start, err := wire.ReadMessage()
		if err != nil || start.Request == nil {
			return
		}
		var startReq startConversationRequest
		if err := decodePayload(start.Request.Payload, &startReq); err != nil {
			return
		}
		challenge, err := identity.NewChallenge()
		if err != nil {
			return
		}
		if err := wire.WriteMessage(transport.Message{Id: start.Id, Response: &transport.Response{
			Status: transport.StatusOk,
			Payload: startConversationResponse{
				ServerPublicKey:       []byte(kp.Public),
				ChallengeFromServer:   challenge,
				SignedClientChallenge: kp.Sign(startReq.ChallengeFromClient),
			},
		}}); err != nil {
			return
		}

		verify, err := wire.ReadMessage()
		if err != nil || verify.Request == nil {
			return
		}
		if err := wire.WriteMessage(transport.Message{Id: verify.Id, Response: &transport.Response{Status: transport.StatusOk}}); err != nil {
			return
		}

		for {
			msg, err := wire.ReadMessage()
			if err != nil || msg.Request == nil {
				return
			}
			srv.received = append(srv.received, msg.Request.Kind)
			if err := wire.WriteMessage(transport.Message{Id: msg.Id, Response: &transport.Response{Status: transport.StatusOk}}); err != nil {
				return
			}
		}
	}()

	return ln, srv
}

func targetFor(t *testing.T, ln net.Listener, serverID identity.NetworkID) NeighborView {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return NeighborView{NetworkID: serverID, IP: "127.0.0.1", PrimaryPort: port}
}

func TestInitializeProfilesStreamsStartUpdatesAndFinish(t *testing.T) {
	serverKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	clientKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	ln, srv := startFakePeerServer(t, serverKP)
	defer ln.Close()

	client := NewTCPPeerClient(clientKP, nil, zap.NewNop())
	target := targetFor(t, ln, serverKP.NetworkID())

	profiles := []HostedProfile{
		{TargetIdentityID: idWith(0x10), Snapshot: store.ProfileSnapshot{Name: "alice", Version: "1.0.0"}},
		{TargetIdentityID: idWith(0x11), Snapshot: store.ProfileSnapshot{Name: "bob", Version: "1.0.0"}},
		{TargetIdentityID: idWith(0x12), Snapshot: store.ProfileSnapshot{Name: "carol", Version: "1.0.0"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.InitializeProfiles(ctx, target, profiles))

	// give the server goroutine a moment to record the last message.
	time.Sleep(50 * time.Millisecond)

	require.Len(t, srv.received, len(profiles)+2)
	assert.Equal(t, transport.KindStartNeighborhoodInitialization, srv.received[0])
	for i := range profiles {
		assert.Equal(t, transport.KindNeighborhoodSharedProfileUpdate, srv.received[i+1])
	}
	assert.Equal(t, transport.KindFinishNeighborhoodInitialization, srv.received[len(profiles)+1])
}

func TestInitializeProfilesWithNoProfilesStillSendsStartAndFinish(t *testing.T) {
	serverKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	clientKP, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	ln, srv := startFakePeerServer(t, serverKP)
	defer ln.Close()

	client := NewTCPPeerClient(clientKP, nil, zap.NewNop())
	target := targetFor(t, ln, serverKP.NetworkID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.InitializeProfiles(ctx, target, nil))

	time.Sleep(50 * time.Millisecond)

	require.Len(t, srv.received, 2)
	assert.Equal(t, transport.KindStartNeighborhoodInitialization, srv.received[0])
	assert.Equal(t, transport.KindFinishNeighborhoodInitialization, srv.received[1])
}
