package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_queries_total",
			Help: "Total number of natural language queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_query_errors_total",
			Help: "Failed natural language queries by error kind.",
		},
		[]string{"kind"},
	)
	queryIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_query_intents_total",
			Help: "Successful natural language queries by classified intent.",
		},
		[]string{"intent"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nldb_query_duration_ms",
			Help:    "End-to-end pipeline latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	queryConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nldb_query_confidence",
			Help:    "Confidence of synthesized SQL for successful queries.",
			Buckets: []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	schemaDiscoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_schema_discoveries_total",
			Help: "Schema discoveries by data source and status.",
		},
		[]string{"source", "status"},
	)
	schemaTables = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nldb_schema_tables",
			Help: "Number of tables in the last discovered schema of a data source.",
		},
		[]string{"source"},
	)
	rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_rpc_requests_total",
			Help: "Dispatched protocol requests by method and result code.",
		},
		[]string{"method", "code"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nldb_auth_failures_total",
			Help: "Rejected API credentials by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryErrorsTotal,
		queryIntentsTotal,
		queryDurationMs,
		queryConfidence,
		schemaDiscoveriesTotal,
		schemaTables,
		rpcRequestsTotal,
		authFailuresTotal,
	)
}

func ObserveQuerySuccess(intent string, confidence float64, elapsed time.Duration) {
	queriesTotal.WithLabelValues("success").Inc()
	queryIntentsTotal.WithLabelValues(intent).Inc()
	queryConfidence.Observe(confidence)
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryFailure(kind string, elapsed time.Duration) {
	queriesTotal.WithLabelValues("failure").Inc()
	queryErrorsTotal.WithLabelValues(kind).Inc()
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveSchemaDiscovery(source string, tables int, err error) {
	if err != nil {
		schemaDiscoveriesTotal.WithLabelValues(source, "error").Inc()
		return
	}
	schemaDiscoveriesTotal.WithLabelValues(source, "ok").Inc()
	schemaTables.WithLabelValues(source).Set(float64(tables))
}

// ObserveRPC records one dispatched request. code is 0 for success.
func ObserveRPC(method string, code int) {
	rpcRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
