// Package metrics exposes the proxy's Prometheus series behind a small
// interface so tests can substitute a local registry instead of the global
// default one.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RuntimeInfo is the fixed label set of the mongoproxy_runtime_info series,
// set once at startup as a fire-once gauge.
type RuntimeInfo struct {
	Version          string
	Proxy            string
	ServiceName      string
	LogMongoMessages bool
	EnableJaeger     bool
}

// Registry records proxy activity as Prometheus series.
type Registry interface {
	SetRuntimeInfo(info RuntimeInfo)

	IncConnectionEstablished(client string)
	IncConnectionClosed(client string)
	IncConnectionError(client string)
	ObserveServerConnectTime(serverAddr string, seconds float64)

	IncCommand(command, namespace string)
	ObserveCommandLatency(command string, seconds float64)
	IncOrphanResponse(direction string)
	IncRequestTimeout(command string)
	IncTransparentLookupFailure()
	IncObserverDrop(direction string)

	// Handler serves the Prometheus text exposition format.
	Handler() http.Handler
}

type prometheusRegistry struct {
	reg *prometheus.Registry

	runtimeInfo *prometheus.GaugeVec

	connectionsEstablished *prometheus.CounterVec
	connectionsClosed      *prometheus.CounterVec
	connectionErrors       *prometheus.CounterVec
	serverConnectTime      *prometheus.HistogramVec

	commandTotal           *prometheus.CounterVec
	commandLatencySeconds  *prometheus.HistogramVec
	orphanResponsesTotal   *prometheus.CounterVec
	requestTimeoutsTotal   *prometheus.CounterVec
	transparentLookupFails prometheus.Counter
	observerDropsTotal     *prometheus.CounterVec
}

// New builds a Registry backed by a fresh, per-instance prometheus.Registry —
// never the global DefaultRegisterer — so multiple instances (e.g. in tests)
// never collide on metric registration.
func New() Registry {
	reg := prometheus.NewRegistry()

	r := &prometheusRegistry{
		reg: reg,
		runtimeInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mongoproxy_runtime_info",
			Help: "Static info about the running mongoproxy instance, value is always 1.",
		}, []string{"version", "proxy", "service_name", "log_mongo_messages", "enable_jaeger"}),

		connectionsEstablished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_client_connections_established_total",
			Help: "Total number of client connections established.",
		}, []string{"client"}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_client_disconnections_total",
			Help: "Total number of client connections closed.",
		}, []string{"client"}),
		connectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_client_connection_errors_total",
			Help: "Total number of client connection errors.",
		}, []string{"client"}),
		serverConnectTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mongoproxy_server_connect_time_seconds",
			Help:    "Time taken to establish the upstream server connection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server_addr"}),

		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_command_total",
			Help: "Total number of commands observed, by command name and namespace.",
		}, []string{"command", "namespace"}),
		commandLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mongoproxy_command_latency_seconds",
			Help:    "Observed round-trip latency between a client request and its matching server reply.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		orphanResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_orphan_responses_total",
			Help: "Total number of server responses with no matching pending request.",
		}, []string{"direction"}),
		requestTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_request_timeouts_total",
			Help: "Total number of pending requests evicted by TTL without a matching response.",
		}, []string{"command"}),
		transparentLookupFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mongoproxy_transparent_lookup_failures_total",
			Help: "Total number of failures recovering the original destination of a transparently redirected connection.",
		}),
		observerDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mongoproxy_observer_drops_total",
			Help: "Total number of observer queue overflows; on the first overflow a direction drops the chunk, stops feeding its observer, and poisons that connection's tracking rather than blocking on it.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		r.runtimeInfo,
		r.connectionsEstablished,
		r.connectionsClosed,
		r.connectionErrors,
		r.serverConnectTime,
		r.commandTotal,
		r.commandLatencySeconds,
		r.orphanResponsesTotal,
		r.requestTimeoutsTotal,
		r.transparentLookupFails,
		r.observerDropsTotal,
	)

	return r
}

func (r *prometheusRegistry) SetRuntimeInfo(info RuntimeInfo) {
	r.runtimeInfo.WithLabelValues(
		info.Version,
		info.Proxy,
		info.ServiceName,
		strconv.FormatBool(info.LogMongoMessages),
		strconv.FormatBool(info.EnableJaeger),
	).Set(1)
}

func (r *prometheusRegistry) IncConnectionEstablished(client string) {
	r.connectionsEstablished.WithLabelValues(client).Inc()
}

func (r *prometheusRegistry) IncConnectionClosed(client string) {
	r.connectionsClosed.WithLabelValues(client).Inc()
}

func (r *prometheusRegistry) IncConnectionError(client string) {
	r.connectionErrors.WithLabelValues(client).Inc()
}

func (r *prometheusRegistry) ObserveServerConnectTime(serverAddr string, seconds float64) {
	r.serverConnectTime.WithLabelValues(serverAddr).Observe(seconds)
}

func (r *prometheusRegistry) IncCommand(command, namespace string) {
	r.commandTotal.WithLabelValues(command, namespace).Inc()
}

func (r *prometheusRegistry) ObserveCommandLatency(command string, seconds float64) {
	r.commandLatencySeconds.WithLabelValues(command).Observe(seconds)
}

func (r *prometheusRegistry) IncOrphanResponse(direction string) {
	r.orphanResponsesTotal.WithLabelValues(direction).Inc()
}

func (r *prometheusRegistry) IncRequestTimeout(command string) {
	r.requestTimeoutsTotal.WithLabelValues(command).Inc()
}

func (r *prometheusRegistry) IncTransparentLookupFailure() {
	r.transparentLookupFails.Inc()
}

func (r *prometheusRegistry) IncObserverDrop(direction string) {
	r.observerDropsTotal.WithLabelValues(direction).Inc()
}

func (r *prometheusRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
