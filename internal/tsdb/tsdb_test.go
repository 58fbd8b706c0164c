package tsdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		PageSize:          4096,
		CompressorVersion: compress.V2,
		Resolution:        compress.ResolutionMillis,
		ReadOnlyThreshold: time.Hour,
		ArchiveThreshold:  24 * time.Hour,
	}
}

func TestCreateAppendQuery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	tb, err := Create(dir, 1000, 2000, testOptions())
	require.NoError(t, err)
	defer tb.Close()

	for i := int64(0); i < 30; i++ {
		require.NoError(t, tb.Append(1, 1000+i*10, schema.Float(i)))
	}

	samples, err := tb.Query(1, 0, 100000)
	require.NoError(t, err)
	require.Len(t, samples, 30)
	require.Equal(t, StateActive, tb.State())
}

func TestFlushAndReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	tb, err := Create(dir, 1000, 2000, testOptions())
	require.NoError(t, err)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, tb.Append(42, 1000+i*100, schema.Float(i)*2))
	}
	require.NoError(t, tb.Flush())
	require.NoError(t, tb.Close())

	tb2, err := Open(dir, testOptions())
	require.NoError(t, err)
	defer tb2.Close()

	m := tb2.Manifest()
	require.Equal(t, int64(1000), m.BucketStart)
	require.Equal(t, int64(2000), m.BucketEnd)
}

func TestMultipleSeriesShareDataFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	tb, err := Create(dir, 1000, 2000, testOptions())
	require.NoError(t, err)
	defer tb.Close()

	for tsid := uint32(1); tsid <= 5; tsid++ {
		for i := int64(0); i < 5; i++ {
			require.NoError(t, tb.Append(tsid, 1000+i*100, schema.Float(tsid)))
		}
	}
	for tsid := uint32(1); tsid <= 5; tsid++ {
		samples, err := tb.Query(tsid, 0, 100000)
		require.NoError(t, err)
		require.Len(t, samples, 5)
	}
}

func TestLifecycleTransition(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	opt := testOptions()
	opt.ReadOnlyThreshold = time.Nanosecond
	opt.ArchiveThreshold = time.Nanosecond
	tb, err := Create(dir, 1000, 2000, opt)
	require.NoError(t, err)
	defer tb.Close()

	require.NoError(t, tb.Append(1, 1000, 1.0))
	time.Sleep(2 * time.Millisecond)

	s1 := tb.MaybeTransition(time.Now())
	require.Equal(t, StateReadOnly, s1)
	s2 := tb.MaybeTransition(time.Now())
	require.Equal(t, StateArchived, s2)
}

func TestAppendRejectedWhenNotActive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	tb, err := Create(dir, 1000, 2000, testOptions())
	require.NoError(t, err)
	defer tb.Close()

	tb.mu.Lock()
	tb.state = StateReadOnly
	tb.mu.Unlock()

	err = tb.Append(1, 1000, 1.0)
	require.ErrorIs(t, err, ErrReadOnly)
}
