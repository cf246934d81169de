// Package metrics exports queue processor events as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/hearth/internal/engine"
)

const namespace = "hearth"

// Cycle results used as the "result" label.
const (
	ResultOK      = "ok"
	ResultHalted  = "halted"
	ResultStopped = "stopped"
)

// Recorder is an engine.Observer that counts lifecycle events.
type Recorder struct {
	queued    prometheus.Counter
	cycles    *prometheus.CounterVec
	tasks     *prometheus.CounterVec
	failures  prometheus.Counter
	removed   prometheus.Counter
	coalesced prometheus.Counter
	dropped   prometheus.Counter
	folded    prometheus.Histogram
}

var _ engine.Observer = (*Recorder)(nil)

// New creates a Recorder and registers its collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_queued_total",
			Help:      "Tasks appended to the durable queue.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Completed flush cycles by result.",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_tasks_total",
			Help:      "Folded tasks executed successfully by outcome.",
		}, []string{"operation", "outcome"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_task_failures_total",
			Help:      "Tasks whose failure halted a cycle.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_removed_total",
			Help:      "Original queue entries removed after a successful replay.",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_coalesced_total",
			Help:      "Queue entries merged away by folding.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_dropped_total",
			Help:      "Writes discarded because their entity was deleted.",
		}),
		folded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_tasks",
			Help:      "Folded tasks per cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		}),
	}
	reg.MustRegister(r.queued, r.cycles, r.tasks, r.failures, r.removed, r.coalesced, r.dropped, r.folded)
	return r
}

// OnEvent implements engine.Observer.
func (r *Recorder) OnEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventQueued:
		r.queued.Inc()
	case engine.EventStarted:
		r.folded.Observe(float64(ev.Count))
		r.coalesced.Add(float64(ev.Stats.Coalesced))
		r.dropped.Add(float64(ev.Stats.Dropped))
	case engine.EventTaskOK:
		r.tasks.WithLabelValues(string(ev.Task.Op), ev.Outcome.String()).Inc()
		r.removed.Add(float64(len(ev.Replaces)))
	case engine.EventTaskError:
		r.failures.Inc()
	case engine.EventDone:
		r.cycles.WithLabelValues(result(ev)).Inc()
	}
}

func result(ev engine.Event) string {
	switch {
	case ev.Err == nil:
		return ResultOK
	case engine.IsStopped(ev.Err):
		return ResultStopped
	default:
		return ResultHalted
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
