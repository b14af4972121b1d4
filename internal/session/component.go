package session

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/fabric"
	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
	"github.com/Internet-of-People/iop-profile-server/internal/transport"
)

// Component is the C6 lifecycle component: the process-wide authenticated
// session Registry and a Dispatcher shared by every fabric.Listener.
// It implements fabric.SessionHandler directly, so a single Component
// instance can be handed to every role's Listener.
type Component struct {
	Registry   *Registry
	Dispatcher *Dispatcher

	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewComponent wires a Dispatcher (built via BuildDispatcher plus any
// role-specific handlers layered on by the caller) into the C6 component.
func NewComponent(dispatcher *Dispatcher, registry *Registry, reg *metrics.Registry, logger *zap.Logger) *Component {
	return &Component{Registry: registry, Dispatcher: dispatcher, metrics: reg, logger: logger.Named("session")}
}

// Init has nothing to start: the Registry and Dispatcher are ready as
// soon as they're constructed. Listener startup (C5) is what actually
// begins accepting connections that reach HandleConnection.
func (c *Component) Init(ctx context.Context) error {
	c.logger.Info("session processor ready")
	return nil
}

// Shutdown has nothing to release. It does not close open sessions:
// Listener.Shutdown closes only connections still waiting in its accept
// queue, and HandleConnection checks ctx only between messages.
func (c *Component) Shutdown(ctx context.Context) error {
	c.logger.Info("session processor stopping")
	return nil
}

// HandleConnection runs one accepted connection to completion: decode
// frames, dispatch each Request, write its Response, repeat until the
// peer disconnects, a handler signals Disconnect, the keep-alive sweep
// closes the connection (it reaches only authenticated sessions, through
// Registry.CloseExpired), or ctx is found cancelled between messages.
func (c *Component) HandleConnection(ctx context.Context, conn net.Conn, role fabric.Role) {
	sess := NewSession(conn, role)
	defer sess.Close()
	defer func() {
		if id := sess.Identity(); id.Authenticated {
			c.Registry.Remove(id.NetworkID, sess)
			if c.metrics != nil {
				c.metrics.SessionsOnline.Set(float64(c.Registry.Count()))
			}
		}
	}()

	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
	}

	wire := transport.NewConn(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := wire.ReadMessage()
		if err != nil {
			return
		}
		if !msg.IsRequest() {
			continue // stray response on an accept-side connection; ignore
		}

		resp, outcome := c.Dispatcher.Dispatch(ctx, sess, *msg.Request)
		sess.Touch()

		if resp.Status != transport.StatusOk && c.metrics != nil && msg.Request.Kind == transport.KindVerifyIdentity {
			c.metrics.SessionsAuthFailed.Inc()
		}

		if err := wire.WriteMessage(transport.Message{Id: msg.Id, Response: &resp}); err != nil {
			return
		}
		if outcome == Disconnect {
			return
		}
	}
}

var _ fabric.SessionHandler = (*Component)(nil)
