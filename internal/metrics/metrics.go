// Package metrics exposes LiteMQ's Prometheus metrics.
//
// Every broker owns one Registry; nothing is registered with the global
// prometheus.DefaultRegisterer, so several brokers can live in one process
// (as they do in tests).
//
// # Metric families
//
//	litemq_messages_enqueued_total{queue}
//	litemq_messages_dequeued_total{queue}
//	litemq_messages_purged_total{queue}
//	litemq_flushes_total
//	litemq_storage_commit_seconds{op}
//	litemq_storage_commit_errors_total{op}
//	litemq_rpc_requests_total{method,code}
//	litemq_rpc_duration_seconds{method}
//	litemq_http_requests_total{method,route,status}
//	litemq_http_request_duration_seconds{method,route}
//	litemq_queue_length{queue}, litemq_queue_waiters{queue}
//	litemq_queues
//
// A nil *Registry is valid and records nothing, which is how a broker runs
// with metrics disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sneh-joshi/litemq/internal/queue"
	"github.com/sneh-joshi/litemq/internal/types"
)

const namespace = "litemq"

// Registry holds all LiteMQ application metrics.
type Registry struct {
	reg *prometheus.Registry

	enqueued *prometheus.CounterVec
	dequeued *prometheus.CounterVec
	purged   *prometheus.CounterVec
	flushes  prometheus.Counter

	commitSeconds *prometheus.HistogramVec
	commitErrors  *prometheus.CounterVec

	rpcRequests *prometheus.CounterVec
	rpcSeconds  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpSeconds  *prometheus.HistogramVec

	wsConns prometheus.Gauge
}

// New creates a Registry with the Go runtime and process collectors already
// registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_enqueued_total",
			Help:      "Messages durably enqueued.",
		}, []string{"queue"}),
		dequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dequeued_total",
			Help:      "Messages durably dequeued and delivered to a consumer.",
		}, []string{"queue"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_purged_total",
			Help:      "Messages removed by purge.",
		}, []string{"queue"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Completed flush operations.",
		}),
		commitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_commit_seconds",
			Help:      "Latency of storage engine commits, fsync included.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 9),
		}, []string{"op"}),
		commitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_commit_errors_total",
			Help:      "Storage engine commits that failed.",
		}, []string{"op"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		rpcSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "gRPC request latency. Dequeue includes time spent blocked.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket queue streams.",
		}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.enqueued, r.dequeued, r.purged, r.flushes,
		r.commitSeconds, r.commitErrors,
		r.rpcRequests, r.rpcSeconds,
		r.httpRequests, r.httpSeconds,
		r.wsConns,
	)
	return r
}

// Gatherer returns the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler returns an http.Handler serving every registered metric in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ─── message counters ─────────────────────────────────────────────────────────

// Enqueued counts one enqueued message.
func (r *Registry) Enqueued(queue string) {
	if r != nil {
		r.enqueued.WithLabelValues(queue).Inc()
	}
}

// Dequeued counts one dequeued message.
func (r *Registry) Dequeued(queue string) {
	if r != nil {
		r.dequeued.WithLabelValues(queue).Inc()
	}
}

// Purged counts n purged messages.
func (r *Registry) Purged(queue string, n int) {
	if r != nil && n > 0 {
		r.purged.WithLabelValues(queue).Add(float64(n))
	}
}

// Flushed counts one flush.
func (r *Registry) Flushed() {
	if r != nil {
		r.flushes.Inc()
	}
}

// ─── storage ──────────────────────────────────────────────────────────────────

// ObserveCommit records the latency and outcome of one storage commit.
func (r *Registry) ObserveCommit(op types.Op, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.commitSeconds.WithLabelValues(op.String()).Observe(d.Seconds())
	if err != nil {
		r.commitErrors.WithLabelValues(op.String()).Inc()
	}
}

// ─── transports ───────────────────────────────────────────────────────────────

// ObserveRPC records one completed gRPC call.
func (r *Registry) ObserveRPC(method, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.rpcRequests.WithLabelValues(method, code).Inc()
	r.rpcSeconds.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveHTTP records one completed HTTP request. route is the matched
// pattern, not the raw path, so queue names do not explode label cardinality.
func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// StreamOpened counts one WebSocket stream as open.
func (r *Registry) StreamOpened() {
	if r != nil {
		r.wsConns.Inc()
	}
}

// StreamClosed counts one WebSocket stream as closed.
func (r *Registry) StreamClosed() {
	if r != nil {
		r.wsConns.Dec()
	}
}

// ─── queue gauges ─────────────────────────────────────────────────────────────

// WatchQueues registers gauges computed from stats at scrape time.
func (r *Registry) WatchQueues(stats func() []queue.Stats) {
	if r == nil {
		return
	}
	r.reg.MustRegister(&queueCollector{stats: stats})
}

var (
	queueLengthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queue_length"),
		"Messages stored in the queue.",
		[]string{"queue"}, nil,
	)
	queueWaitersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queue_waiters"),
		"Consumers blocked on the queue.",
		[]string{"queue"}, nil,
	)
	queuesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queues"),
		"Queues known to the broker.",
		nil, nil,
	)
)

// queueCollector snapshots the queues once per scrape.
type queueCollector struct {
	stats func() []queue.Stats
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueLengthDesc
	ch <- queueWaitersDesc
	ch <- queuesDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	for _, s := range stats {
		ch <- prometheus.MustNewConstMetric(queueLengthDesc, prometheus.GaugeValue, float64(s.Length), s.Name)
		ch <- prometheus.MustNewConstMetric(queueWaitersDesc, prometheus.GaugeValue, float64(s.Waiters), s.Name)
	}
	ch <- prometheus.MustNewConstMetric(queuesDesc, prometheus.GaugeValue, float64(len(stats)))
}
