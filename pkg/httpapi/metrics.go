package httpapi

import (
	"net/http"
	"time"

	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the ambient HTTP entry points of §6. Mirrors
// the global-counter + MustRegister-in-init pattern of a Prometheus
// instrumentation example in the retrieval pack, not a pattern the
// teacher itself uses (the teacher only consumes Prometheus as an
// external metric source, never instruments its own process with it).
var (
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdb_queries_total",
		Help: "Total /api/query requests, partitioned by outcome",
	}, []string{"outcome"})

	queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsdb_query_duration_seconds",
		Help:    "Latency of /api/query requests",
		Buckets: prometheus.DefBuckets,
	})

	writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsdb_writes_total",
		Help: "Total ingested data points, partitioned by ingest.Result code",
	}, []string{"code"})
)

func init() {
	prometheus.MustRegister(queriesTotal, queryDuration, writesTotal)
}

func observeQuery(d time.Duration, ok bool) {
	queryDuration.Observe(d.Seconds())
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	queriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveWrite records one ingest.Result against the writesTotal
// counter. Exported so callers that route around the HTTP /api/put
// path (pkg/ingest's TCP listener and NATS subscriber) can feed the
// same counter.
func ObserveWrite(code ingest.Code) {
	writesTotal.WithLabelValues(codeLabel(code)).Inc()
}

func codeLabel(code ingest.Code) string {
	switch code {
	case ingest.Ok:
		return "ok"
	case ingest.Rejected:
		return "rejected"
	case ingest.BucketReadOnly:
		return "bucket_read_only"
	case ingest.PageTooSmall:
		return "page_too_small"
	default:
		return "unknown"
	}
}

// MetricsHandler serves the Prometheus text exposition format at
// GET /metrics (§6).
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
