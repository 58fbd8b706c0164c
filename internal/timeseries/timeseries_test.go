package timeseries

import (
	"testing"

	"github.com/nova-ts/tsdb/internal/page"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newTestAllocator() PageAllocator {
	fileID := 0
	pageIndex := 0
	return func(startTS int64, isOOO bool) (*page.Page, error) {
		buf := make([]byte, 4096)
		p := page.New(1, fileID, pageIndex, startTS, isOOO, compress.V2, compress.ResolutionMillis, buf)
		pageIndex++
		return p, nil
	}
}

func TestAppendInOrder(t *testing.T) {
	ts := New(1, newTestAllocator())
	for i := int64(0); i < 20; i++ {
		require.NoError(t, ts.Append(1000+i*1000, schema.Float(i)))
	}
	samples, err := ts.Query(0, 1000000)
	require.NoError(t, err)
	require.Len(t, samples, 20)
	for i := 1; i < len(samples); i++ {
		require.Less(t, samples[i-1].TS, samples[i].TS)
	}
}

func TestAppendOutOfOrderRoutesToOOOPage(t *testing.T) {
	ts := New(1, newTestAllocator())
	require.NoError(t, ts.Append(5000, 5.0))
	require.NoError(t, ts.Append(6000, 6.0))
	// Out of order: earlier than last in-order sample.
	require.NoError(t, ts.Append(3000, 3.0))

	samples, err := ts.Query(0, 100000)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Equal(t, int64(3000), samples[0].TS)
	require.Equal(t, int64(5000), samples[1].TS)
	require.Equal(t, int64(6000), samples[2].TS)
}

func TestDuplicateTimestampLastValueWins(t *testing.T) {
	ts := New(1, newTestAllocator())
	require.NoError(t, ts.Append(1000, 1.0))
	require.NoError(t, ts.Append(2000, 2.0))
	// Same timestamp written again out of order: must collapse, last write wins.
	require.NoError(t, ts.Append(2000, 99.0))

	samples, err := ts.Query(0, 100000)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, int64(2000), samples[1].TS)
	require.Equal(t, schema.Float(99.0), samples[1].Value)
}

func TestAppendAcrossPageBoundary(t *testing.T) {
	fileID := 0
	pageIndex := 0
	alloc := func(startTS int64, isOOO bool) (*page.Page, error) {
		buf := make([]byte, 12) // room for exactly one v2 sample
		p := page.New(1, fileID, pageIndex, startTS, isOOO, compress.V2, compress.ResolutionMillis, buf)
		pageIndex++
		return p, nil
	}
	ts := New(1, alloc)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, ts.Append(1000+i*1000, schema.Float(i)))
	}
	samples, err := ts.Query(0, 100000)
	require.NoError(t, err)
	require.Len(t, samples, 5)
}

func TestQueryRangeFiltersSamples(t *testing.T) {
	ts := New(1, newTestAllocator())
	for i := int64(0); i < 10; i++ {
		require.NoError(t, ts.Append(1000+i*1000, schema.Float(i)))
	}
	samples, err := ts.Query(3000, 6000)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Equal(t, int64(3000), samples[0].TS)
	require.Equal(t, int64(5000), samples[2].TS)
}
