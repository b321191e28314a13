// Package metrics exposes cycle, retention and notifier counters to
// Prometheus. Values are derived from event bus traffic only, so producers
// never depend on this package.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mudbooker/internal/eventbus"
	"mudbooker/internal/notifier"
	"mudbooker/internal/runner"
	logx "mudbooker/pkg/logx"
)

const namespace = "mudbooker"

// Collector owns a private registry and the metric families registered on it.
type Collector struct {
	registry *prometheus.Registry
	log      logx.Logger

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	bookmarks     *prometheus.CounterVec
	pruned        prometheus.Counter
	pruneFailures prometheus.Counter
	lastSuccess   prometheus.Gauge
	nextRun       prometheus.Gauge
	interval      prometheus.Gauge
	reloads       prometheus.Counter
	notifications *prometheus.CounterVec
}

// NewCollector registers every family on a fresh registry. Go runtime and
// process collectors are included when withRuntime is set.
func NewCollector(withRuntime bool, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: reg,
		log:      log.With(logx.String("comp", "metrics")),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Snapshot cycles by result (completed, failed, skipped).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed snapshot cycles.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		bookmarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookmarks_total",
			Help:      "Bookmarks written into snapshot folders by result (created, failed).",
		}, []string{"result"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Expired snapshot folders removed.",
		}),
		pruneFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_failures_total",
			Help:      "Snapshot folders that could not be removed.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed cycle.",
		}),
		nextRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_run_timestamp_seconds",
			Help:      "Unix time the next cycle is expected.",
		}),
		interval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interval_seconds",
			Help:      "Currently armed snapshot interval.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_reloads_total",
			Help:      "Settings reloads that changed at least one field.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier lifecycle events (queued, deduped, dropped, sent, failed).",
		}, []string{"event"}),
	}
	reg.MustRegister(
		c.cycles, c.cycleDuration, c.bookmarks, c.pruned, c.pruneFailures,
		c.lastSuccess, c.nextRun, c.interval, c.reloads, c.notifications,
	)
	return c
}

// Registry is the registry served by the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe folds one bus event into the metric families. Unknown events are
// ignored.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.CycleCompleted:
		c.cycles.WithLabelValues("completed").Inc()
		res, ok := ev.Data.(runner.Result)
		if !ok {
			return
		}
		c.cycleDuration.Observe(res.Took.Seconds())
		c.bookmarks.WithLabelValues("created").Add(float64(res.Created))
		c.bookmarks.WithLabelValues("failed").Add(float64(res.Failed))
		c.pruned.Add(float64(len(res.Pruned.Deleted)))
		c.pruneFailures.Add(float64(len(res.Pruned.Failed)))
		c.lastSuccess.Set(unixSeconds(res.RunState.LastRun))
		c.nextRun.Set(unixSeconds(res.RunState.NextRun))
	case eventbus.CycleFailed:
		c.cycles.WithLabelValues("failed").Inc()
	case eventbus.CycleSkipped:
		c.cycles.WithLabelValues("skipped").Inc()
	case eventbus.SchedulerArmed:
		if d, ok := ev.Data.(time.Duration); ok {
			c.interval.Set(d.Seconds())
		}
	case eventbus.SettingsReloaded:
		c.reloads.Inc()
	case notifier.EventQueued, notifier.EventDeduped, notifier.EventDropped, notifier.EventSent, notifier.EventFailed:
		c.notifications.WithLabelValues(ev.Type[len("notifier."):]).Inc()
	}
}

// Consume observes bus events until ctx is done. It is meant to run under a
// supervisor.
func (c *Collector) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	c.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}
