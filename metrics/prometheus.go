package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusMetrics struct {
	queriesReceived       prometheus.Counter
	queriesAnswered       prometheus.Counter
	queriesDropped        prometheus.Counter
	queriesForwarded      prometheus.Counter
	queriesFailed         prometheus.Counter
	queriesNotImplemented prometheus.Counter
	malformedPackets      prometheus.Counter
	records               prometheus.Gauge
	queryResponseTime     *prometheus.HistogramVec

	registry *prometheus.Registry
	server   *http.Server
	config   MetricsConfig
}

func (ms *PrometheusMetrics) IncQueriesReceived() {
	ms.queriesReceived.Inc()
}

func (ms *PrometheusMetrics) IncQueriesAnswered() {
	ms.queriesAnswered.Inc()
}

func (ms *PrometheusMetrics) IncQueriesDropped() {
	ms.queriesDropped.Inc()
}

func (ms *PrometheusMetrics) IncQueriesForwarded() {
	ms.queriesForwarded.Inc()
}

func (ms *PrometheusMetrics) IncQueriesFailed() {
	ms.queriesFailed.Inc()
}

func (ms *PrometheusMetrics) IncQueriesNotImplemented() {
	ms.queriesNotImplemented.Inc()
}

func (ms *PrometheusMetrics) IncMalformedPackets() {
	ms.malformedPackets.Inc()
}

func (ms *PrometheusMetrics) SetRecordCount(count int) {
	ms.records.Set(float64(count))
}

func (ms *PrometheusMetrics) GetForwardTimer() *prometheus.Timer {
	return prometheus.NewTimer(ms.queryResponseTime.WithLabelValues("forward"))
}

func (ms *PrometheusMetrics) GetResponseTimer() *prometheus.Timer {
	return prometheus.NewTimer(ms.queryResponseTime.WithLabelValues("respond"))
}

func (ms *PrometheusMetrics) ObserveTimer(timer *prometheus.Timer) {
	if timer != nil {
		timer.ObserveDuration()
	}
}

func (ms *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(ms.registry, promhttp.HandlerOpts{Registry: ms.registry})
}

func (ms *PrometheusMetrics) Start() error {
	if !ms.config.Enable {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", ms.Handler())
	ms.server = &http.Server{
		Addr:    ms.config.Addr,
		Handler: mux,
	}

	go func() {
		ms.config.Logger.Info("starting prometheus metrics", "addr", ms.config.Addr, "endpoint", "/metrics")
		err := ms.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ms.config.Logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

func (ms *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if ms.server == nil {
		return nil
	}
	return ms.server.Shutdown(ctx)
}

func newPrometheus(config MetricsConfig) *PrometheusMetrics {
	if config.Addr == "" {
		config.Addr = fmt.Sprintf(":%d", DefaultPort)
	}

	// A private registry, so more than one instance can exist in a process.
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		queriesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_received",
			Help: "The total number of udp datagrams received since last start, malformed ones included",
		}),
		queriesAnswered: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_answered",
			Help: "The total number of queries answered from the redirect table since last start",
		}),
		queriesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_dropped",
			Help: "The number of messages given no reply: unmatched names, unsupported types, responses and messages without questions",
		}),
		queriesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_forwarded",
			Help: "The number of queries relayed to an upstream resolver",
		}),
		queriesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_failed",
			Help: "The number of queries that could not be forwarded or answered due to an error",
		}),
		queriesNotImplemented: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_queries_not_implemented",
			Help: "The number of queries refused with NOTIMP because of their opcode",
		}),
		malformedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "spudproxy_malformed_packets",
			Help: "The number of datagrams dropped because they could not be decoded",
		}),
		records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spudproxy_records",
			Help: "The number of entries in the redirect table",
		}),
		queryResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "duration_seconds",
			Help:      "Handling time of DNS queries",
			Namespace: "spudproxy",
		}, []string{"action"}),
		registry: registry,
		config:   config,
	}
}
