package neighborhood

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
)

// refreshStrikeLimit is spec.md §4.8 step 6's "three outstanding
// RefreshProfiles actions" eviction threshold.
const refreshStrikeLimit = 3

// initializeBatchSize bounds items-per-message for InitializeProfiles
// streaming, per spec.md §4.8 step 4.
const initializeBatchSize = 50

// Processor is the C8 component: it polls ready actions, serializes
// dispatch per (ServerId, TargetIdentityId), and applies each action's
// per-type effect against its target.
type Processor struct {
	store    ActionStore
	lookup   NeighborLookup
	client   PeerClient
	logger   *zap.Logger
	metrics  *metrics.Registry

	parallelism int

	mu       sync.Mutex
	inFlight map[targetKey]bool
}

// WithMetrics attaches a metrics registry for Poll to report against; the
// zero value (nil) is safe and simply skips reporting, which is what
// every Processor built outside cmd/profileserver gets by default.
func (p *Processor) WithMetrics(reg *metrics.Registry) *Processor {
	p.metrics = reg
	return p
}

// NewProcessor constructs a Processor bounded to parallelism concurrent
// dispatches per Poll call.
func NewProcessor(store ActionStore, lookup NeighborLookup, client PeerClient, parallelism int, logger *zap.Logger) *Processor {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Processor{
		store:       store,
		lookup:      lookup,
		client:      client,
		parallelism: parallelism,
		logger:      logger.Named("neighborhood"),
		inFlight:    make(map[targetKey]bool),
	}
}

// Poll implements spec.md §4.8 step 1-2: select ready actions ordered by
// Id, skip any whose (ServerId, TargetIdentityId) pair already has an
// action in flight, and dispatch the rest with bounded parallelism.
func (p *Processor) Poll(ctx context.Context) error {
	actions, err := p.store.ListReadyActions(ctx, time.Now(), p.parallelism*4)
	if err != nil {
		return errors.Wrap(err, "neighborhood: list ready actions")
	}
	if p.metrics != nil {
		p.metrics.ActionsPending.Set(float64(len(actions)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)

	for _, action := range actions {
		action := action
		key := keyFor(action)

		if !p.tryAcquire(key) {
			continue
		}

		g.Go(func() error {
			defer p.release(key)
			p.process(gctx, action)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) tryAcquire(key targetKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[key] {
		return false
	}
	p.inFlight[key] = true
	return true
}

func (p *Processor) release(key targetKey) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}

// process runs one action to completion, applying spec.md §4.8 steps 3-7.
func (p *Processor) process(ctx context.Context, action store.NeighborhoodAction) {
	err := p.dispatch(ctx, action)
	switch {
	case err == nil:
		if delErr := p.store.DeleteAction(ctx, action.ID); delErr != nil {
			p.logger.Error("failed to delete completed action", zap.Uint64("action_id", action.ID), zap.Error(delErr))
		}
		if p.metrics != nil {
			p.metrics.ActionsProcessed.WithLabelValues(string(action.Type)).Inc()
		}
	case isReject(err):
		p.logger.Info("action rejected, dropping", zap.Uint64("action_id", action.ID), zap.Error(err))
		if delErr := p.store.DeleteAction(ctx, action.ID); delErr != nil {
			p.logger.Error("failed to delete rejected action", zap.Uint64("action_id", action.ID), zap.Error(delErr))
		}
		if p.metrics != nil {
			p.metrics.ActionsRejected.Inc()
		}
	default:
		if p.metrics != nil {
			p.metrics.ActionsRetried.Inc()
		}
		p.retryWithBackoff(ctx, action, err)
	}
}

func (p *Processor) retryWithBackoff(ctx context.Context, action store.NeighborhoodAction, cause error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0 // truncated, not abandoned: the action itself is the retry state

	// action.Attempt is the count of prior failures; fast-forward a fresh
	// backoff through that many intervals so the delay actually escalates
	// across retries instead of resetting to InitialInterval every time.
	for i := 0; i < action.Attempt; i++ {
		b.NextBackOff()
	}
	next := b.NextBackOff()
	executeAfter := time.Now().Add(next)
	if err := p.store.RescheduleAction(ctx, action.ID, executeAfter, action.Attempt+1); err != nil {
		p.logger.Error("failed to reschedule action after transient failure", zap.Uint64("action_id", action.ID), zap.Error(err))
		return
	}
	p.logger.Warn("action failed transiently, rescheduled", zap.Uint64("action_id", action.ID), zap.Int("attempt", action.Attempt+1), zap.Duration("retry_in", next), zap.Error(cause))

	if action.Type == store.ActionRefreshProfiles {
		p.evictIfTooManyStrikes(ctx, action.ServerID)
	}
}

func (p *Processor) evictIfTooManyStrikes(ctx context.Context, follower identity.NetworkID) {
	count, err := p.store.CountOutstandingRefreshActions(ctx, follower)
	if err != nil {
		p.logger.Error("failed to count outstanding refresh actions", zap.Error(err))
		return
	}
	if count < refreshStrikeLimit {
		return
	}
	if err := p.store.EvictFollower(ctx, follower); err != nil {
		p.logger.Error("failed to evict follower after repeated refresh failures", zap.Error(err))
		return
	}
	p.logger.Info("follower evicted after repeated refresh failures", zap.Int("outstanding_refreshes", count))
}

func isReject(err error) bool {
	var r *RejectError
	return errors.As(err, &r)
}
