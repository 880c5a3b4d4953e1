// Package metrics holds the Prometheus collectors exported at /metrics.
// Every Observe method is safe to call on a nil *Registry, so components
// can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the service
type Registry struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	TasksProcessed *prometheus.CounterVec
	TasksEnqueued  *prometheus.CounterVec

	EmailsSent *prometheus.CounterVec
	SheetOps   *prometheus.CounterVec

	ExternalCalls *prometheus.CounterVec
}

// NewRegistry creates a registry with every collector registered
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "membership_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_tasks_processed_total",
				Help: "Background tasks processed by name and result",
			},
			[]string{"task", "result"},
		),

		TasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_tasks_enqueued_total",
				Help: "Background tasks enqueued by name",
			},
			[]string{"task"},
		),

		EmailsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_emails_total",
				Help: "Outgoing emails by result",
			},
			[]string{"result"},
		),

		SheetOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_sheet_operations_total",
				Help: "Spreadsheet API operations by operation and result",
			},
			[]string{"op", "result"},
		),

		ExternalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_external_calls_total",
				Help: "Calls to MailChimp, PayPal and the geocoder by service and result",
			},
			[]string{"service", "result"},
		),
	}

	r.registry.MustRegister(
		r.HTTPRequests,
		r.HTTPDuration,
		r.TasksProcessed,
		r.TasksEnqueued,
		r.EmailsSent,
		r.SheetOps,
		r.ExternalCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (r *Registry) ObserveHTTP(route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (r *Registry) ObserveTask(task string, err error) {
	if r == nil {
		return
	}
	r.TasksProcessed.WithLabelValues(task, result(err)).Inc()
}

func (r *Registry) ObserveEnqueue(task string) {
	if r == nil {
		return
	}
	r.TasksEnqueued.WithLabelValues(task).Inc()
}

func (r *Registry) ObserveEmail(err error) {
	if r == nil {
		return
	}
	r.EmailsSent.WithLabelValues(result(err)).Inc()
}

func (r *Registry) ObserveSheetOp(op string, err error) {
	if r == nil {
		return
	}
	r.SheetOps.WithLabelValues(op, result(err)).Inc()
}

func (r *Registry) ObserveExternal(service string, err error) {
	if r == nil {
		return
	}
	r.ExternalCalls.WithLabelValues(service, result(err)).Inc()
}
