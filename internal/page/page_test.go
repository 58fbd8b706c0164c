package page

import (
	"testing"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestAppendAndFlushRestore(t *testing.T) {
	buf := make([]byte, 4096)
	p := New(1, 0, 0, 1000, false, compress.V2, compress.ResolutionMillis, buf)

	for i := int64(0); i < 50; i++ {
		require.NoError(t, p.Append(1000+i*1000, schema.Float(float64(i)*1.5)))
	}
	h := p.Flush()
	require.Equal(t, 50, p.DPCount())

	restored, err := Open(h, buf, compress.ResolutionMillis)
	require.NoError(t, err)
	samples, err := restored.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 50)
	require.Equal(t, int64(1000), samples[0].TS)
}

func TestInRange(t *testing.T) {
	p := New(1, 0, 0, 1000, false, compress.V0, compress.ResolutionMillis, make([]byte, 64))
	require.Equal(t, -1, p.InRange(500, 1000, 2000))
	require.Equal(t, 0, p.InRange(1500, 1000, 2000))
	require.Equal(t, 1, p.InRange(2000, 1000, 2000))
}

func TestFullSealAndAllocateNext(t *testing.T) {
	buf := make([]byte, 12) // room for one v2 sample only
	p := New(1, 0, 0, 0, false, compress.V2, compress.ResolutionMillis, buf)
	require.NoError(t, p.Append(100, 1.0))
	err := p.Append(200, 2.0)
	require.Error(t, err)
	require.True(t, p.IsFull())
}
