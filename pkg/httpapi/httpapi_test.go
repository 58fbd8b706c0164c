package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/nova-ts/tsdb/pkg/query"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct{}

func (fakeResolver) ResolveSeries(metric string, tags map[string]string, filters []query.Filter, explicitTags bool) ([]query.SeriesMeta, error) {
	return []query.SeriesMeta{{TSID: 1, Tags: map[string]string{"host": "web01"}}}, nil
}

func (fakeResolver) QueryRange(tsid uint32, from, to int64) ([]compress.Sample, error) {
	return []compress.Sample{{TS: 1000, Value: 4}}, nil
}

type fakeRouter struct{ lastCode ingest.Code }

func (f *fakeRouter) Route(metric string, tags map[string]string, ts int64, v schema.Float) ingest.Result {
	return ingest.Result{Code: f.lastCode}
}

type fakeHealth struct{}

func (fakeHealth) Health() Health {
	return Health{BucketsByState: map[string]int{"active": 1}}
}

func newTestServer() *Server {
	return &Server{
		Executor: query.NewExecutor(fakeResolver{}),
		Ingress:  ingest.New(&fakeRouter{lastCode: ingest.Ok}),
		Health:   fakeHealth{},
	}
}

func TestPostQueryReturnsSeries(t *testing.T) {
	s := newTestServer()
	body := `{"start": 0, "queries": [{"aggregator": "avg", "metric": "cpu.load"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(body))
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var out []query.ResponseSeries
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "cpu.load", out[0].Metric)
}

func TestGetQueryParsesMSpec(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/query?start=0&m=avg:cpu.load%7Bhost=web01%7D", nil)
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
}

func TestGetQueryMissingMSpecIsBadRequest(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/query?start=0", nil)
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestPutAllSuccessReturnsNoContent(t *testing.T) {
	s := newTestServer()
	body := `[{"metric":"cpu.load","timestamp":1000,"value":1.5,"tags":{"host":"web01"}}]`
	req := httptest.NewRequest(http.MethodPost, "/api/put", bytes.NewBufferString(body))
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusNoContent, rw.Code)
}

func TestPutRejectionReturnsBadRequestWithErrors(t *testing.T) {
	s := newTestServer()
	s.Ingress = ingest.New(&fakeRouter{lastCode: ingest.Rejected})
	body := `[{"metric":"cpu.load","timestamp":1000,"value":1.5}]`
	req := httptest.NewRequest(http.MethodPost, "/api/put", bytes.NewBufferString(body))
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestHealthzReportsBucketStates(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	var h Health
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &h))
	require.Equal(t, 1, h.BucketsByState["active"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()

	s.Router().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "tsdb_")
}
