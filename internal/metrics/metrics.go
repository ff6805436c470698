// Package metrics exposes rebuild and cache measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caschost-go/internal/host"
)

const namespace = "caschost"

// Recorder implements host.Recorder on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	passes         *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	passChanges    prometheus.Counter
	passesDeferred prometheus.Counter
	pending        prometheus.Gauge
	entries        prometheus.Gauge
	storeBatches   prometheus.Counter
	storeOps       prometheus.Counter
}

// NewRecorder registers all collectors, plus the Go and process collectors,
// on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_passes_total",
			Help:      "Completed rebuild passes by kind and result.",
		}, []string{"kind", "result"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_pass_duration_seconds",
			Help:      "Duration of rebuild passes in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
		passChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_changes_total",
			Help:      "File changes applied by rebuild passes.",
		}),
		passesDeferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuild_deferred_total",
			Help:      "Rebuild requests postponed because a pass was running.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "File changes waiting for the next pass.",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries held by the content cache.",
		}),
		storeBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_batches_total",
			Help:      "Transactions applied to the cache store.",
		}),
		storeOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_statements_total",
			Help:      "Statements applied to the cache store.",
		}),
	}
}

func kind(full bool) string {
	if full {
		return "full"
	}
	return "incremental"
}

func (r *Recorder) PassCompleted(full bool, changes int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.passes.WithLabelValues(kind(full), result).Inc()
	r.passDuration.WithLabelValues(kind(full)).Observe(d.Seconds())
	r.passChanges.Add(float64(changes))
}

func (r *Recorder) PassDeferred() { r.passesDeferred.Inc() }

func (r *Recorder) PendingChanges(n int) { r.pending.Set(float64(n)) }

func (r *Recorder) CacheEntries(n int) { r.entries.Set(float64(n)) }

func (r *Recorder) StoreBatch(statements int) {
	r.storeBatches.Inc()
	r.storeOps.Add(float64(statements))
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ host.Recorder = (*Recorder)(nil)
