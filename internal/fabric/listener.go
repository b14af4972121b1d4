package fabric

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Internet-of-People/iop-profile-server/internal/lifecycle"
)

// ShutdownGrace is the fixed grace period spec.md §5 gives the producer
// and dispatcher goroutines to drain before sockets are forcibly disposed.
const ShutdownGrace = 10 * time.Second

// acceptQueueCapacity bounds the producer->dispatcher handoff channel.
const acceptQueueCapacity = 64

// SessionHandler is invoked once per accepted connection, on its own
// goroutine. It owns the connection's lifetime and must return once the
// session ends (protocol violation, keep-alive timeout, peer close, or
// shutdown signal).
type SessionHandler interface {
	HandleConnection(ctx context.Context, conn net.Conn, role Role)
}

// Listener runs one role's accept loop: a producer task accepts raw TCP
// connections and enqueues them into a bounded channel; a dispatcher
// drains the channel, performs the server-side TLS handshake when the
// role requires one, and spawns a session task per connection. The TLS
// handshake is deferred to the dispatcher rather than performed in the
// accept loop, so a slow or hostile handshake can't stall admission of
// other connections.
type Listener struct {
	role      Role
	tlsConfig *tls.Config
	handler   SessionHandler
	logger    *zap.Logger
	limiter   *rate.Limiter

	listener net.Listener
	queue    chan net.Conn
	signal   lifecycle.Signal
}

// NewListener constructs a Listener for role. tlsConfig may be nil when
// role.TLS is false; limiter paces the accept loop's admission rate.
func NewListener(role Role, tlsConfig *tls.Config, handler SessionHandler, limiter *rate.Limiter, logger *zap.Logger) *Listener {
	return &Listener{
		role:      role,
		tlsConfig: tlsConfig,
		handler:   handler,
		limiter:   limiter,
		logger:    logger.Named("fabric").With(zap.String("role", role.ID.String())),
	}
}

// Init binds the listening socket and starts the producer/dispatcher
// goroutines under signal's lifetime.
func (l *Listener) Init(ctx context.Context, signal lifecycle.Signal) error {
	addr := net.JoinHostPort(l.role.BindAddress, portString(l.role.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "fabric: listen on role %s", l.role.ID)
	}
	l.listener = ln
	l.queue = make(chan net.Conn, acceptQueueCapacity)
	l.signal = signal

	go l.produce()
	go l.dispatch()

	l.logger.Info("role listener started", zap.String("addr", addr), zap.Bool("tls", l.role.TLS))
	return nil
}

// Shutdown cancels the signal, closes the listening socket, and drains and
// closes whatever is left in the accept queue, waiting up to ShutdownGrace
// for the producer to close the queue. It does not wait for session tasks
// already handed to the handler; those end when they observe the
// cancelled signal.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.listener == nil {
		return nil
	}
	l.signal.Cancel()
	if err := l.listener.Close(); err != nil {
		l.logger.Warn("error closing listener", zap.Error(err))
	}

	drainTimer := time.NewTimer(ShutdownGrace)
	defer drainTimer.Stop()
drain:
	for {
		select {
		case conn, ok := <-l.queue:
			if !ok {
				break drain
			}
			_ = conn.Close()
		case <-drainTimer.C:
			break drain
		}
	}
	l.logger.Info("role listener stopped")
	return nil
}

func (l *Listener) produce() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			close(l.queue)
			return
		}
		if l.limiter != nil && !l.limiter.Allow() {
			_ = conn.Close()
			continue
		}
		configureSocket(conn)
		select {
		case l.queue <- conn:
		case <-l.signal.Done():
			_ = conn.Close()
			return
		}
	}
}

func (l *Listener) dispatch() {
	g, ctx := errgroup.WithContext(l.signal.Context())
	for conn := range l.queue {
		conn := conn
		g.Go(func() error {
			wrapped, ok := l.maybeWrapTLS(ctx, conn)
			if !ok {
				return nil
			}
			l.handler.HandleConnection(ctx, wrapped, l.role)
			return nil
		})
	}
	_ = g.Wait()
}

// tlsHandshakeTimeout bounds the server-side TLS handshake for TLS-flagged
// roles, so a stalled or hostile peer can't hold a dispatcher goroutine
// open indefinitely.
const tlsHandshakeTimeout = 10 * time.Second

// maybeWrapTLS performs the deferred server-side TLS handshake for
// TLS-flagged roles; roles with a nil tlsConfig pass conn through
// unchanged. On handshake failure conn is closed and the second return is
// false, telling dispatch to drop the connection without invoking the
// session handler.
func (l *Listener) maybeWrapTLS(ctx context.Context, conn net.Conn) (net.Conn, bool) {
	if l.tlsConfig == nil {
		return conn, true
	}
	tlsConn := tls.Server(conn, l.tlsConfig)
	hsCtx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		l.logger.Warn("tls handshake failed", zap.Error(err))
		_ = conn.Close()
		return nil, false
	}
	return tlsConn, true
}

// configureSocket applies spec.md §4.5's no-delay + linger=0 policy so a
// forcible close propagates RST semantics to the peer.
func configureSocket(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetLinger(0)
}

func portString(port int) string {
	return strconv.Itoa(port)
}
