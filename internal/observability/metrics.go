package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"automod/internal/content"
	"automod/internal/task/engine"
)

const namespace = "automod"

// Metrics holds the Prometheus collectors for task firings and the per-item
// outcomes of every stage. Each instance owns its registry.
type Metrics struct {
	reg *prometheus.Registry

	Firings        *prometheus.CounterVec
	FiringDuration *prometheus.HistogramVec
	QueueDelay     *prometheus.HistogramVec
	Items          *prometheus.CounterVec
	Purged         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Firings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_firings_total",
				Help:      "Executed task firings by outcome.",
			},
			[]string{"task", "outcome"},
		),
		FiringDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall time of one task firing.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"task"},
		),
		QueueDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_queue_delay_seconds",
				Help:      "Time a firing waited for a free worker.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_items_total",
				Help:      "Entities processed by pipeline stages by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		Purged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_purged_total",
				Help:      "Rows removed by retention firings.",
			},
			[]string{"stage"},
		),
	}
	m.reg.MustRegister(
		m.Firings, m.FiringDuration, m.QueueDelay, m.Items, m.Purged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveTask records one executed firing. It has the engine result hook
// signature so it can be chained with other hooks.
func (m *Metrics) ObserveTask(ev engine.TaskEvent) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case ev.Panicked:
		outcome = "panic"
	case ev.Error != "":
		outcome = "failure"
	}
	m.Firings.WithLabelValues(ev.Name, outcome).Inc()
	m.FiringDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	m.QueueDelay.WithLabelValues(ev.Name).Observe(ev.QueueDelay.Seconds())
}

// ObserveReport records the per-item outcomes of one stage firing.
func (m *Metrics) ObserveReport(rep content.Report) {
	if m == nil {
		return
	}
	stage := rep.Stage
	if n := rep.Succeeded(); n > 0 {
		m.Items.WithLabelValues(stage, "success").Add(float64(n))
	}
	if n := rep.Failed(); n > 0 {
		m.Items.WithLabelValues(stage, "failure").Add(float64(n))
	}
	if n := rep.Skipped(); n > 0 {
		m.Items.WithLabelValues(stage, "skipped").Add(float64(n))
	}
	if rep.Deleted > 0 {
		m.Purged.WithLabelValues(stage).Add(float64(rep.Deleted))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
