// Package metrics defines the prometheus collectors exposed across
// sessions, neighborhood actions, and search — ambient observability
// carried regardless of which feature Non-goals exclude an admin surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector this process exposes. It is
// constructed once at startup and threaded into the components that
// report against it, mirroring the teacher's single-registry-per-process
// convention.
type Registry struct {
	SessionsOnline      prometheus.Gauge
	SessionsStarted     prometheus.Counter
	SessionsAuthFailed  prometheus.Counter

	ActionsPending   prometheus.Gauge
	ActionsProcessed *prometheus.CounterVec
	ActionsRetried   prometheus.Counter
	ActionsRejected  prometheus.Counter

	SearchQueries     prometheus.Counter
	SearchResultCount prometheus.Histogram

	CronTaskDuration *prometheus.HistogramVec
	CronTaskFailures *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SessionsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "profileserver",
			Subsystem: "session",
			Name:      "online",
			Help:      "Number of currently authenticated online sessions.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total connections handed to the session processor.",
		}),
		SessionsAuthFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "session",
			Name:      "auth_failed_total",
			Help:      "Total VerifyIdentity requests answered with a non-Ok status.",
		}),
		ActionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "profileserver",
			Subsystem: "neighborhood",
			Name:      "actions_pending",
			Help:      "Number of neighborhood actions awaiting dispatch.",
		}),
		ActionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "neighborhood",
			Name:      "actions_processed_total",
			Help:      "Neighborhood actions completed, labeled by type.",
		}, []string{"type"}),
		ActionsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "neighborhood",
			Name:      "actions_retried_total",
			Help:      "Neighborhood actions rescheduled after a transient failure.",
		}),
		ActionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "neighborhood",
			Name:      "actions_rejected_total",
			Help:      "Neighborhood actions dropped after a reject response.",
		}),
		SearchQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Total ProfileSearch requests served.",
		}),
		SearchResultCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "profileserver",
			Subsystem: "search",
			Name:      "result_count",
			Help:      "Number of results returned per ProfileSearch request.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CronTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "profileserver",
			Subsystem: "cron",
			Name:      "task_duration_seconds",
			Help:      "Duration of each cron task tick, labeled by task name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		CronTaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "profileserver",
			Subsystem: "cron",
			Name:      "task_failures_total",
			Help:      "Cron task ticks that returned an error, labeled by task name.",
		}, []string{"task"}),
	}

	reg.MustRegister(
		r.SessionsOnline, r.SessionsStarted, r.SessionsAuthFailed,
		r.ActionsPending, r.ActionsProcessed, r.ActionsRetried, r.ActionsRejected,
		r.SearchQueries, r.SearchResultCount,
		r.CronTaskDuration, r.CronTaskFailures,
	)
	return r
}
