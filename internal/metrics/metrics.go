// Package metrics exposes Prometheus collectors for index builds and
// containment queries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for QueryPointsTotal.
const (
	OutcomeInside       = "inside"
	OutcomeOutside      = "outside"
	OutcomeExactInside  = "exact_inside"
	OutcomeExactOutside = "exact_outside"
)

var (
	IndexBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areaindex_index_builds_total",
		Help: "Containment index builds by result",
	}, []string{"result"})
	IndexBuildDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "areaindex_index_build_duration_ms",
		Help:    "Cell classification duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
	})
	IndexCellsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areaindex_index_cells_total",
		Help: "Cells produced by index builds by relationship",
	}, []string{"relationship"})
	IndexLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areaindex_index_loads_total",
		Help: "Index lookups by the tier that answered them",
	}, []string{"source"})
	QueryPointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areaindex_query_points_total",
		Help: "Points classified by containment queries by outcome",
	}, []string{"outcome"})
	ExactTestCallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areaindex_exact_test_calls_total",
		Help: "Calls made to the exact polygon tester",
	})
	QueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "areaindex_query_duration_ms",
		Help:    "Batch containment query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areaindex_redis_hits_total",
		Help: "Total redis index cache hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "areaindex_redis_misses_total",
		Help: "Total redis index cache misses",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "areaindex_http_requests_total",
		Help: "HTTP requests by route, method and status class",
	}, []string{"route", "method", "status"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "areaindex_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	}, []string{"route", "method"})
)

func init() {
	prometheus.MustRegister(IndexBuildsTotal)
	prometheus.MustRegister(IndexBuildDurationMs)
	prometheus.MustRegister(IndexCellsTotal)
	prometheus.MustRegister(IndexLoadsTotal)
	prometheus.MustRegister(QueryPointsTotal)
	prometheus.MustRegister(ExactTestCallsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
}

// Handler serves the registered collectors for Prometheus to scrape.
func Handler() http.Handler { return promhttp.Handler() }
