// Package obs exposes service counters through prometheus.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's instrumentation on its own registry so
// tests never collide on the global default.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted  prometheus.Counter
	Transitions      *prometheus.CounterVec
	JobsActive       prometheus.Gauge
	JobRetries       prometheus.Counter
	JobFailures      prometheus.Counter
	BroadcastSent    prometheus.Counter
	BroadcastDropped prometheus.Counter
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapd_orders_submitted_total",
			Help: "Total number of accepted swap submissions",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapd_order_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swapd_jobs_active",
			Help: "Jobs currently held by a worker slot",
		}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapd_job_retries_total",
			Help: "Job attempts rescheduled after a failure",
		}),
		JobFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapd_job_failures_total",
			Help: "Jobs failed terminally after exhausting retries",
		}),
		BroadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapd_broadcast_sent_total",
			Help: "Status updates delivered to observers",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapd_broadcast_dropped_total",
			Help: "Status updates dropped on dead observer connections",
		}),
	}
	m.registry.MustRegister(
		m.OrdersSubmitted,
		m.Transitions,
		m.JobsActive,
		m.JobRetries,
		m.JobFailures,
		m.BroadcastSent,
		m.BroadcastDropped,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
