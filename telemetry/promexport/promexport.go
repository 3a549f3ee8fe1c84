// Package promexport exposes core orchestration metrics (queue depth, task
// latency, HITL pending count) on a Prometheus scrape endpoint, independent
// of the telemetry.Metrics interface used for internal instrumentation.
// Collector only declares and registers these instruments; no component of
// the core records values into them, so a scrape reports only what a caller
// sets through the exported fields.
package promexport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments scraped by /metrics.
type Collector struct {
	registry *prometheus.Registry

	TaskLatency    *prometheus.HistogramVec
	TasksTotal     *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	HITLPending    *prometheus.GaugeVec
	RetriesTotal   *prometheus.CounterVec
	EventsFanned   *prometheus.CounterVec
	SubscribersGau prometheus.Gauge
}

// New constructs a Collector with its own registry so it can be mounted
// independently of the default global registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		TaskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "bmad_core_task_duration_seconds",
			Help: "Duration of agent task attempts, labeled by agent_type and outcome.",
		}, []string{"agent_type", "outcome"}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmad_core_tasks_total",
			Help: "Total tasks transitioned to a terminal state, labeled by agent_type and outcome.",
		}, []string{"agent_type", "outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bmad_core_scheduler_queue_depth",
			Help: "Current number of tasks queued per project.",
		}, []string{"project_id"}),
		HITLPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bmad_core_hitl_pending",
			Help: "Current number of pending HITL approvals per project.",
		}, []string{"project_id"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmad_core_task_retries_total",
			Help: "Total scheduler-level retry attempts, labeled by agent_type.",
		}, []string{"agent_type"}),
		EventsFanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmad_core_events_fanned_total",
			Help: "Total events delivered to subscribers, labeled by kind.",
		}, []string{"kind"}),
		SubscribersGau: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bmad_core_event_subscribers",
			Help: "Current number of active event fabric subscribers.",
		}),
	}
	reg.MustRegister(c.TaskLatency, c.TasksTotal, c.QueueDepth, c.HITLPending, c.RetriesTotal, c.EventsFanned, c.SubscribersGau)
	return c
}

// Handler returns the http.Handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
