// Package httpapi wires the HTTP entry points of §6: POST/GET
// /api/query, POST /api/put, and GET /healthz, plus the /metrics
// surface in metrics.go. Routing and middleware follow the teacher's
// server.go: a gorilla/mux router with gorilla/handlers'
// CustomLoggingHandler, CompressHandler, and CORS wrapped around it.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/nova-ts/tsdb/pkg/query"
)

// HealthReporter supplies the data behind GET /healthz.
type HealthReporter interface {
	Health() Health
}

// BucketStateSource is the engine-side dependency EngineHealth needs.
// internal/engine.Engine implements this.
type BucketStateSource interface {
	BucketStates() map[string]int
}

// PoolStats is the minimal view of a recyclepool.Pool EngineHealth
// reports on, named so a process can register several (page buffers,
// query tasks, bitstream cursors).
type PoolStats interface {
	OutCount() int
	Capacity() int
}

// EngineHealth adapts an Engine and its named RecyclePools into a
// HealthReporter.
type EngineHealth struct {
	Engine BucketStateSource
	Pools  map[string]PoolStats
}

func (h EngineHealth) Health() Health {
	hp := Health{BucketsByState: h.Engine.BucketStates()}
	for name, p := range h.Pools {
		hp.RecyclePools = append(hp.RecyclePools, PoolHealth{Name: name, OutstandingSlots: p.OutCount(), Capacity: p.Capacity()})
	}
	return hp
}

// Health is the JSON body of GET /healthz (§6's "per-bucket state
// counts, recycle pool pressure").
type Health struct {
	BucketsByState map[string]int `json:"bucketsByState"`
	RecyclePools   []PoolHealth   `json:"recyclePools"`
}

// PoolHealth reports one RecyclePool's outstanding/capacity pressure.
type PoolHealth struct {
	Name             string `json:"name"`
	OutstandingSlots int    `json:"outstandingSlots"`
	Capacity         int    `json:"capacity"`
}

// Server builds the gorilla/mux router wrapping the query executor,
// ingress, and health reporter into the routes of §6.
type Server struct {
	Executor *query.Executor
	Ingress  *ingest.Ingress
	Health   HealthReporter
}

// Router builds the full middleware-wrapped handler, matching the
// teacher's CompressHandler -> CORS -> CustomLoggingHandler stack in
// server.go (applied here in the same order around a /api, /healthz,
// /metrics mux.Router instead of the UI/GraphQL routes it wraps there).
func (s *Server) Router() http.Handler {
	if s.Ingress != nil && s.Ingress.OnResult == nil {
		s.Ingress.OnResult = ObserveWrite
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/query", s.handleQuery).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/api/put", ingest.HTTPHandler(s.Ingress)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", MetricsHandler())

	r.Use(handlers.CompressHandler)
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))

	return handlers.CustomLoggingHandler(io.Discard, r, func(w io.Writer, params handlers.LogFormatterParams) {
		cclog.Infof("%s %s (status=%d size=%d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	var err error

	switch r.Method {
	case http.MethodPost:
		err = json.NewDecoder(r.Body).Decode(&req)
	case http.MethodGet:
		req, err = decodeGetQuery(r)
	}
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	out, err := s.Executor.Run(req, start)
	observeQuery(time.Since(start), err == nil)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if out == nil {
		out = []query.ResponseSeries{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		cclog.Errorf("httpapi: encode /api/query response: %v", err)
	}
}

// decodeGetQuery builds a query.Request from GET /api/query?start=...&m=<spec>
// (repeatable) per §6.
func decodeGetQuery(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	req := query.Request{Start: q.Get("start")}
	if end := q.Get("end"); end != "" {
		req.End = end
	}
	for _, spec := range q["m"] {
		sq, err := query.ParseGetSpec(spec)
		if err != nil {
			return req, fmt.Errorf("httpapi: %w", err)
		}
		req.Queries = append(req.Queries, sq)
	}
	if len(req.Queries) == 0 {
		return req, fmt.Errorf("httpapi: GET /api/query requires at least one m= parameter")
	}
	return req, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.Health == nil {
		json.NewEncoder(w).Encode(Health{})
		return
	}
	json.NewEncoder(w).Encode(s.Health.Health())
}

func httpError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
