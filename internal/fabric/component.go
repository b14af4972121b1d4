package fabric

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/lifecycle"
)

// Component is the C5 lifecycle component: it owns one Listener per role
// and the keep-alive sweeper, all sharing a Signal derived from the
// process-wide shutdown Signal so Shutdown can cancel every accept loop
// and in-flight session at once.
type Component struct {
	listeners []*Listener
	sweeper   *KeepAliveSweeper

	parent lifecycle.Signal
	signal lifecycle.Signal
	logger *zap.Logger
}

// NewComponent wires the per-role Listeners and the keep-alive sweeper
// into the C5 component, deriving their lifetime from parent.
func NewComponent(listeners []*Listener, sweeper *KeepAliveSweeper, parent lifecycle.Signal, logger *zap.Logger) *Component {
	return &Component{listeners: listeners, sweeper: sweeper, parent: parent, logger: logger.Named("fabric")}
}

// Init starts every role's Listener and the keep-alive sweeper goroutine.
func (c *Component) Init(ctx context.Context) error {
	c.signal = c.parent.Child()
	for _, l := range c.listeners {
		if err := l.Init(ctx, c.signal); err != nil {
			return err
		}
	}
	go c.sweeper.Run(c.signal.Context())
	c.logger.Info("fabric listeners started", zap.Int("roles", len(c.listeners)))
	return nil
}

// Shutdown cancels the shared Signal, then stops every Listener in
// registration order, aggregating errors rather than stopping at the
// first so one stuck role doesn't block the others from releasing their
// sockets.
func (c *Component) Shutdown(ctx context.Context) error {
	c.signal.Cancel()
	var err error
	for _, l := range c.listeners {
		if stopErr := l.Shutdown(ctx); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
	}
	c.logger.Info("fabric listeners stopped")
	return err
}
