package ingest

import (
	"math"
	"testing"

	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	calls []Result
	last  struct {
		metric string
		tags   map[string]string
		ts     int64
		v      schema.Float
	}
}

func (f *fakeRouter) Route(metric string, tags map[string]string, ts int64, v schema.Float) Result {
	f.last.metric, f.last.tags, f.last.ts, f.last.v = metric, tags, ts, v
	return Result{Code: Ok}
}

func TestParseLineBasic(t *testing.T) {
	metric, ts, v, tags, err := ParseLine("put cpu.load 1000 42.5 host=web01 env=prod")
	require.NoError(t, err)
	require.Equal(t, "cpu.load", metric)
	require.Equal(t, int64(1000), ts)
	require.Equal(t, schema.Float(42.5), v)
	require.Equal(t, "web01", tags["host"])
	require.Equal(t, "prod", tags["env"])
}

func TestParseLineNoTags(t *testing.T) {
	metric, ts, v, tags, err := ParseLine("put mem.free 2000 -3.25e2")
	require.NoError(t, err)
	require.Equal(t, "mem.free", metric)
	require.Equal(t, int64(2000), ts)
	require.Equal(t, schema.Float(-325), v)
	require.Nil(t, tags)
}

func TestParseLineSpecialFloats(t *testing.T) {
	_, _, v, _, err := ParseLine("put x 1 NaN")
	require.NoError(t, err)
	require.True(t, v.IsNaN())

	_, _, v, _, err = ParseLine("put x 1 Inf")
	require.NoError(t, err)
	require.Equal(t, schema.Float(math.Inf(1)), v)

	_, _, v, _, err = ParseLine("put x 1 -Inf")
	require.NoError(t, err)
	require.Equal(t, schema.Float(math.Inf(-1)), v)
}

func TestParseLineMalformed(t *testing.T) {
	_, _, _, _, err := ParseLine("not a put line")
	require.Error(t, err)

	_, _, _, _, err = ParseLine("put onlymetric")
	require.Error(t, err)

	_, _, _, _, err = ParseLine("put m 1 1 badtag")
	require.Error(t, err)
}

func TestPutRejectsMissingMetric(t *testing.T) {
	r := &fakeRouter{}
	in := New(r)
	res := in.Put("", nil, 1, 0)
	require.Equal(t, Rejected, res.Code)
}

func TestPutRejectsInvalidTagToken(t *testing.T) {
	r := &fakeRouter{}
	in := New(r)
	res := in.Put("cpu.load", map[string]string{"host": "bad value"}, 1, 0)
	require.Equal(t, Rejected, res.Code)
}

func TestPutRoutesValidSample(t *testing.T) {
	r := &fakeRouter{}
	in := New(r)
	res := in.Put("cpu.load", map[string]string{"host": "web01"}, 1000, 42)
	require.Equal(t, Ok, res.Code)
	require.Equal(t, "cpu.load", r.last.metric)
	require.Equal(t, int64(1000), r.last.ts)
}

func TestSplitLines(t *testing.T) {
	out := splitLines([]byte("a\nb\nc"))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, out)

	out = splitLines([]byte("a\nb\n"))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, out)
}
