package fabric

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweepInterval is how often the keep-alive sweep from spec.md §4.6 runs
// ("every few seconds").
const sweepInterval = 5 * time.Second

// SessionRegistry is the subset of C6's session registry the keep-alive
// sweep needs: close every session whose keep-alive deadline has passed.
type SessionRegistry interface {
	CloseExpired(now time.Time)
}

// KeepAliveSweeper periodically closes sessions past their keep-alive
// deadline. Ownership lives in C5 per spec.md §4.6, even though the
// registry itself is C6's.
type KeepAliveSweeper struct {
	registry SessionRegistry
	logger   *zap.Logger
}

// NewKeepAliveSweeper constructs a sweeper over registry.
func NewKeepAliveSweeper(registry SessionRegistry, logger *zap.Logger) *KeepAliveSweeper {
	return &KeepAliveSweeper{registry: registry, logger: logger.Named("fabric.keepalive")}
}

// Run blocks, sweeping every sweepInterval until ctx is cancelled.
func (s *KeepAliveSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.registry.CloseExpired(now)
		}
	}
}
