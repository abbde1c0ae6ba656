// Package metrics exposes probe, restart and operation metrics in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcp_master"

// Metrics owns a private registry; nothing is registered on the default one.
type Metrics struct {
	registry *prometheus.Registry

	probesTotal     *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	serviceUp       *prometheus.GaugeVec
	restartsTotal   *prometheus.CounterVec
	operationsTotal *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestTime     *prometheus.HistogramVec
	memoryBytes     *prometheus.GaugeVec
	cpuPercent      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total health probes by service and result",
			},
			[]string{"service", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of health probes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		serviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_up",
				Help:      "1 if the last probe of the service passed, 0 otherwise",
			},
			[]string{"service"},
		),
		restartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_total",
				Help:      "Total restart attempts by service and result",
			},
			[]string{"service", "result"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total facade operations by name and result",
			},
			[]string{"operation", "result"},
		),
		operationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of facade operations",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"operation"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total dashboard API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of dashboard API requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		memoryBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_memory_rss_bytes",
				Help:      "Resident memory of managed service processes",
			},
			[]string{"service"},
		),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_cpu_percent",
				Help:      "CPU usage of managed service processes between samples",
			},
			[]string{"service"},
		),
	}

	m.registry.MustRegister(
		m.probesTotal,
		m.probeDuration,
		m.serviceUp,
		m.restartsTotal,
		m.operationsTotal,
		m.operationTime,
		m.requestsTotal,
		m.requestTime,
		m.memoryBytes,
		m.cpuPercent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) ObserveProbe(serviceID string, healthy bool, latency time.Duration) {
	m.probesTotal.WithLabelValues(serviceID, result(healthy)).Inc()
	m.probeDuration.WithLabelValues(serviceID).Observe(latency.Seconds())
	up := 0.0
	if healthy {
		up = 1
	}
	m.serviceUp.WithLabelValues(serviceID).Set(up)
}

func (m *Metrics) ObserveRestart(serviceID string, success bool) {
	m.restartsTotal.WithLabelValues(serviceID, result(success)).Inc()
}

func (m *Metrics) ObserveOperation(operation string, success bool, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, result(success)).Inc()
	m.operationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) ObserveRequest(route string, code int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestTime.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUsage(serviceID string, rssBytes int64, cpuPercent float64) {
	m.memoryBytes.WithLabelValues(serviceID).Set(float64(rssBytes))
	m.cpuPercent.WithLabelValues(serviceID).Set(cpuPercent)
}

// Forget drops the per-service series of an unregistered service
func (m *Metrics) Forget(serviceID string) {
	labels := prometheus.Labels{"service": serviceID}
	m.probesTotal.DeletePartialMatch(labels)
	m.probeDuration.DeletePartialMatch(labels)
	m.serviceUp.DeletePartialMatch(labels)
	m.restartsTotal.DeletePartialMatch(labels)
	m.memoryBytes.DeletePartialMatch(labels)
	m.cpuPercent.DeletePartialMatch(labels)
}

// Registry returns the underlying registry for gathering in tests and exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
