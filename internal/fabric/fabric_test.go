package fabric

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Internet-of-People/iop-profile-server/internal/lifecycle"
)

func TestValidateSharedPortsRejectsMismatchedTLS(t *testing.T) {
	roles := []Role{
		{ID: RolePrimary, Port: 9000, TLS: false},
		{ID: RoleServerNeighbor, Port: 9000, TLS: true},
	}
	assert.Error(t, ValidateSharedPorts(roles))
}

func TestValidateSharedPortsAllowsMatchingTLS(t *testing.T) {
	roles := []Role{
		{ID: RoleClientCustomer, Port: 9001, TLS: true},
		{ID: RoleClientAppService, Port: 9001, TLS: true},
	}
	assert.NoError(t, ValidateSharedPorts(roles))
}

type recordingHandler struct {
	handled chan net.Conn
}

func (h *recordingHandler) HandleConnection(ctx context.Context, conn net.Conn, role Role) {
	h.handled <- conn
	<-ctx.Done()
	_ = conn.Close()
}

func TestListenerAcceptsAndDispatchesConnections(t *testing.T) {
	role := Role{ID: RolePrimary, BindAddress: "127.0.0.1", Port: 0, TLS: false}
	handler := &recordingHandler{handled: make(chan net.Conn, 1)}
	limiter := rate.NewLimiter(rate.Inf, 1)
	l := NewListener(role, nil, handler, limiter, zap.NewNop())

	sig := lifecycle.New()
	// Port 0 means "pick a free port" at bind time; Init binds it, so
	// discover the actual address afterward via l.listener.Addr().
	require.NoError(t, l.Init(context.Background(), sig))
	defer func() { _ = l.Shutdown(context.Background()) }()

	addr := l.listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handler.handled:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never dispatched to the handler")
	}
}

func TestListenerPerformsServerSideTLSHandshakeForTLSRoles(t *testing.T) {
	cert := generateSelfSignedCert(t)
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	role := Role{ID: RoleServerNeighbor, BindAddress: "127.0.0.1", Port: 0, TLS: true}
	handler := &recordingHandler{handled: make(chan net.Conn, 1)}
	limiter := rate.NewLimiter(rate.Inf, 1)
	l := NewListener(role, tlsConfig, handler, limiter, zap.NewNop())

	sig := lifecycle.New()
	require.NoError(t, l.Init(context.Background(), sig))
	defer func() { _ = l.Shutdown(context.Background()) }()

	addr := l.listener.Addr().String()
	rawConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer rawConn.Close()

	clientConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, clientConn.Handshake())

	select {
	case conn := <-handler.handled:
		_, ok := conn.(*tls.Conn)
		assert.True(t, ok, "handler should receive the TLS-wrapped connection, not the raw TCP one")
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never dispatched to the handler")
	}
}

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}),
	)
	require.NoError(t, err)
	return cert
}

type fakeRegistry struct {
	calls chan time.Time
}

func (f *fakeRegistry) CloseExpired(now time.Time) {
	f.calls <- now
}

func TestKeepAliveSweeperRunsUntilCancelled(t *testing.T) {
	reg := &fakeRegistry{calls: make(chan time.Time, 1)}
	sweeper := NewKeepAliveSweeper(reg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), sweepInterval+2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	select {
	case <-reg.calls:
	case <-time.After(sweepInterval + time.Second):
		t.Fatal("sweeper never called CloseExpired")
	}

	cancel()
	<-done
}
