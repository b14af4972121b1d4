package cron

import (
	"context"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
)

// job names, surfaced in logs only.
const (
	jobCheckFollowersRefresh         = "checkFollowersRefresh"
	jobCheckExpiredHostedIdentities  = "checkExpiredHostedIdentities"
	jobCheckExpiredNeighbors         = "checkExpiredNeighbors"
	jobDeleteUnusedImages            = "deleteUnusedImages"
	jobRefreshLocData                = "refreshLocData"
)

// schedule is spec.md §4.9's exact (start delay, interval) table.
var schedule = map[string]struct {
	delay    time.Duration
	interval time.Duration
}{
	jobCheckFollowersRefresh:        {19 * time.Second, 11 * time.Minute},
	jobCheckExpiredHostedIdentities: {59 * time.Second, 119 * time.Minute},
	jobCheckExpiredNeighbors:        {5 * time.Minute, 31 * time.Minute},
	jobDeleteUnusedImages:           {200 * time.Second, 37 * time.Minute},
	jobRefreshLocData:               {67 * time.Minute, 601 * time.Minute},
}

// Component is the C9 lifecycle component: it owns a robfig/cron/v3
// scheduler running the five periodic maintenance jobs, each on its own
// DelayedInterval schedule.
type Component struct {
	tasks   *Tasks
	logger  *zap.Logger
	metrics *metrics.Registry

	runner *cronlib.Cron
}

// NewComponent wires Tasks into the component Supervisor.
func NewComponent(tasks *Tasks, reg *metrics.Registry, logger *zap.Logger) *Component {
	return &Component{tasks: tasks, metrics: reg, logger: logger.Named("cron")}
}

// Init anchors every DelayedInterval schedule at the current time and
// starts the scheduler goroutine.
func (c *Component) Init(ctx context.Context) error {
	anchor := time.Now()
	c.runner = cronlib.New()

	register := func(name string, fn func(context.Context) error) {
		s := schedule[name]
		c.runner.Schedule(NewDelayedInterval(anchor, s.delay, s.interval), cronlib.FuncJob(c.swallow(name, fn)))
	}

	register(jobCheckFollowersRefresh, c.tasks.CheckFollowersRefresh)
	register(jobCheckExpiredHostedIdentities, c.tasks.CheckExpiredHostedIdentities)
	register(jobCheckExpiredNeighbors, c.tasks.CheckExpiredNeighbors)
	register(jobDeleteUnusedImages, c.tasks.DeleteUnusedImages)
	register(jobRefreshLocData, c.tasks.RefreshLocData)

	c.runner.Start()
	c.logger.Info("cron scheduler started", zap.Int("jobs", len(schedule)))
	return nil
}

// Shutdown stops the scheduler and waits for any in-flight job to return,
// per robfig/cron/v3's Cron.Stop contract.
func (c *Component) Shutdown(ctx context.Context) error {
	stopCtx := c.runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	c.logger.Info("cron scheduler stopped")
	return nil
}

// swallow wraps a task so a failed tick is logged, never propagated —
// per spec.md §7, a bad tick must not abort the component.
func (c *Component) swallow(name string, fn func(context.Context) error) func() {
	return func() {
		start := time.Now()
		err := fn(context.Background())
		if c.metrics != nil {
			c.metrics.CronTaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if c.metrics != nil {
				c.metrics.CronTaskFailures.WithLabelValues(name).Inc()
			}
			c.logger.Error("cron task failed", zap.String("task", name), zap.Error(err))
		}
	}
}
