package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/ingest"
	"github.com/nova-ts/tsdb/pkg/query"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(Options{
		DataDir:           dir,
		BucketDuration:    time.Hour,
		PageSize:          4096,
		CompressorVersion: compress.V2,
		Resolution:        compress.ResolutionMillis,
		ReadOnlyThreshold: 10 * time.Minute,
		ArchiveThreshold:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRouteAssignsTSIDAndAppends(t *testing.T) {
	e := newTestEngine(t)

	res := e.Route("cpu.load", map[string]string{"host": "h1"}, 1_000, schema.Float(1.5))
	require.Equal(t, ingest.Ok, res.Code)

	res2 := e.Route("cpu.load", map[string]string{"host": "h1"}, 2_000, schema.Float(2.5))
	require.Equal(t, ingest.Ok, res2.Code)

	series, err := e.ResolveSeries("cpu.load", map[string]string{"host": "h1"}, nil, false)
	require.NoError(t, err)
	require.Len(t, series, 1)

	samples, err := e.QueryRange(series[0].TSID, 0, 10_000)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, int64(1000), samples[0].TS)
	require.Equal(t, int64(2000), samples[1].TS)
}

func TestRouteReusesTSIDForSameCanonicalTagSet(t *testing.T) {
	e := newTestEngine(t)

	e.Route("mem.used", map[string]string{"host": "h1", "dc": "a"}, 1_000, schema.Float(1))
	e.Route("mem.used", map[string]string{"dc": "a", "host": "h1"}, 2_000, schema.Float(2))

	series, err := e.ResolveSeries("mem.used", nil, nil, false)
	require.NoError(t, err)
	require.Len(t, series, 1)
}

func TestRouteDistinguishesDifferentTagSets(t *testing.T) {
	e := newTestEngine(t)

	e.Route("mem.used", map[string]string{"host": "h1"}, 1_000, schema.Float(1))
	e.Route("mem.used", map[string]string{"host": "h2"}, 1_000, schema.Float(2))

	series, err := e.ResolveSeries("mem.used", nil, nil, false)
	require.NoError(t, err)
	require.Len(t, series, 2)
}

func TestResolveSeriesWildcardFilter(t *testing.T) {
	e := newTestEngine(t)
	e.Route("mem.used", map[string]string{"host": "web01"}, 1_000, schema.Float(1))
	e.Route("mem.used", map[string]string{"host": "db01"}, 1_000, schema.Float(2))

	series, err := e.ResolveSeries("mem.used", nil, []query.Filter{
		{Type: "wildcard", TagKey: "host", FilterExp: "web*"},
	}, false)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, "web01", series[0].Tags["host"])
}

func TestQueryRangeMergesAcrossBuckets(t *testing.T) {
	e := newTestEngine(t)
	hourMs := int64(time.Hour / time.Millisecond)

	e.Route("cpu.load", map[string]string{"host": "h1"}, 1_000, schema.Float(1))
	e.Route("cpu.load", map[string]string{"host": "h1"}, hourMs+1_000, schema.Float(2))

	series, err := e.ResolveSeries("cpu.load", map[string]string{"host": "h1"}, nil, false)
	require.NoError(t, err)
	require.Len(t, series, 1)

	samples, err := e.QueryRange(series[0].TSID, 0, hourMs*2)
	require.NoError(t, err)
	require.Len(t, samples, 2)
}

func TestOpenResumesTSIDCounterAcrossRestart(t *testing.T) {
	dir := newTestDir(t)
	opt := Options{
		DataDir:           dir,
		BucketDuration:    time.Hour,
		PageSize:          4096,
		CompressorVersion: compress.V2,
		Resolution:        compress.ResolutionMillis,
	}

	e1, err := Open(opt)
	require.NoError(t, err)
	e1.Route("cpu.load", map[string]string{"host": "h1"}, 1_000, schema.Float(1))
	first := e1.nextTSID
	require.NoError(t, e1.Close())

	e2, err := Open(opt)
	require.NoError(t, err)
	require.Equal(t, first, e2.nextTSID)
	require.NoError(t, e2.Close())
}

func newTestDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data")
}
