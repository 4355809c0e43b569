// Package metrics exposes Prometheus counters for ingest, check and prune work.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry      *prometheus.Registry
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	ingested      prometheus.Counter
	pruned        prometheus.Counter
	cycles        prometheus.Counter
	writeErrors   prometheus.Counter
}

// New registers all collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptvwatch_probes_total",
			Help: "Stream probes by result (alive or dead).",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iptvwatch_probe_duration_seconds",
			Help:    "Wall-clock time of one decoder probe.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iptvwatch_entries_ingested_total",
			Help: "Entries newly inserted by playlist ingestion.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iptvwatch_entries_pruned_total",
			Help: "Entries deleted by the prune sweep.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iptvwatch_check_cycles_total",
			Help: "Completed check cycles.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iptvwatch_result_write_errors_total",
			Help: "Probe results that could not be written to the catalog.",
		}),
	}
	m.registry.MustRegister(
		m.probes, m.probeDuration, m.ingested, m.pruned, m.cycles, m.writeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProbe(alive bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "dead"
	if alive {
		result = "alive"
	}
	m.probes.WithLabelValues(result).Inc()
	m.probeDuration.Observe(d.Seconds())
}

func (m *Metrics) AddIngested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingested.Add(float64(n))
}

func (m *Metrics) AddPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}

func (m *Metrics) IncCycles() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

func (m *Metrics) IncWriteErrors() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}
