package compactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	dir     string
	samples map[uint32][]compress.Sample
}

func (f *fakeSource) TSIDs() []uint32 {
	out := make([]uint32, 0, len(f.samples))
	for tsid := range f.samples {
		out = append(out, tsid)
	}
	return out
}

func (f *fakeSource) Samples(tsid uint32) ([]compress.Sample, error) {
	return f.samples[tsid], nil
}

func (f *fakeSource) Manifest() (int, compress.Version, compress.Resolution) {
	return 4096, compress.V2, compress.ResolutionMillis
}

func (f *fakeSource) Dir() string { return f.dir }

func TestCompactWritesFreshFilesAndRenamesIntoPlace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bucket-1000")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest"), []byte("old"), 0o644))

	src := &fakeSource{
		dir: dir,
		samples: map[uint32][]compress.Sample{
			1: {{TS: 1000, Value: 1}, {TS: 1000, Value: 2}, {TS: 2000, Value: 3}}, // duplicate ts collapses
			2: {{TS: 500, Value: 9}},
		},
	}

	res, err := Compact(src, 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.TSIDsCompacted)

	_, err = os.Stat(filepath.Join(dir, "data.0"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "header.0"))
	require.NoError(t, err)

	_, err = os.Stat(dir + ".compact.tmp")
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(dir + ".pre-compact.bak")
	require.True(t, os.IsNotExist(err))
}

func TestDedupeCollapsesDuplicateTimestamps(t *testing.T) {
	in := []compress.Sample{
		{TS: 1000, Value: 1}, {TS: 1000, Value: 99}, {TS: 2000, Value: 5},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	require.Equal(t, compress.Sample{TS: 1000, Value: 99}, out[0])
}
