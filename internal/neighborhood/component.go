package neighborhood

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/lifecycle"
)

// pollInterval is how often the single logical worker re-polls for ready
// actions. spec.md §4.8 describes the worker's behavior per poll but
// leaves the polling cadence itself unspecified; 2s keeps propagation
// latency low without hammering the store's ready-action index.
const pollInterval = 2 * time.Second

// Component is the C8 lifecycle component: it runs Processor.Poll on a
// fixed tick for as long as the process lives.
type Component struct {
	processor *Processor
	parent    lifecycle.Signal
	signal    lifecycle.Signal
	logger    *zap.Logger
}

// NewComponent wires a Processor into the C8 component.
func NewComponent(p *Processor, parent lifecycle.Signal, logger *zap.Logger) *Component {
	return &Component{processor: p, parent: parent, logger: logger.Named("neighborhood")}
}

// Init starts the poll loop goroutine.
func (c *Component) Init(ctx context.Context) error {
	c.signal = c.parent.Child()
	go c.run()
	c.logger.Info("neighborhood action processor started", zap.Duration("poll_interval", pollInterval))
	return nil
}

func (c *Component) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.signal.Done():
			return
		case <-ticker.C:
			if err := c.processor.Poll(c.signal.Context()); err != nil {
				c.logger.Error("neighborhood poll failed", zap.Error(err))
			}
		}
	}
}

// Shutdown cancels the poll loop. In-flight dispatches started by the
// last Poll are bounded by their own context and finish or are abandoned
// on process exit; they resume from persisted state on next startup.
func (c *Component) Shutdown(ctx context.Context) error {
	c.signal.Cancel()
	c.logger.Info("neighborhood action processor stopped")
	return nil
}
