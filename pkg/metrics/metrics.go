// Package metrics holds the Prometheus collectors of the query service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts query executions by outcome kind.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioql_queries_total",
			Help: "Total number of executed queries",
		},
		[]string{"kind"},
	)
	// QueryDuration is the latency of query executions.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolioql_query_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	// RowsReturned is the size of successful results.
	RowsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolioql_rows_returned",
			Help:    "Rows returned per successful query",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolioql_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// TCPConnections is the number of open line-protocol connections.
	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portfolioql_tcp_connections",
			Help: "Open TCP client connections",
		},
	)
	// PGConnections is the number of open PostgreSQL protocol sessions.
	PGConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portfolioql_pgwire_connections",
			Help: "Open PostgreSQL protocol client connections",
		},
	)
)

// QueryObserver records engine executions into the collectors above.
type QueryObserver struct{}

// ObserveQuery implements sql.Observer.
func (QueryObserver) ObserveQuery(kind string, elapsed time.Duration, rows int) {
	QueriesTotal.WithLabelValues(kind).Inc()
	QueryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if kind == "ok" {
		RowsReturned.Observe(float64(rows))
	}
}
