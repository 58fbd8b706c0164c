package compress

import (
	"math"
	"math/rand"
	"testing"

	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func genSamples(n int, startTS int64, stepMs int64) []Sample {
	rnd := rand.New(rand.NewSource(42))
	out := make([]Sample, n)
	ts := startTS
	for i := 0; i < n; i++ {
		ts += stepMs + int64(rnd.Intn(5))
		out[i] = Sample{TS: ts, Value: schema.Float(rnd.Float64()*200 - 100)}
	}
	return out
}

func TestRoundTripAllVersions(t *testing.T) {
	samples := genSamples(1000, 1_700_000_000_000, 1000)
	buf := make([]byte, 64*1024)

	for _, version := range []Version{V0, V1, V2} {
		c := New(version, ResolutionMillis, samples[0].TS, buf)
		n := 0
		for _, s := range samples {
			if err := c.Compress(s.TS, s.Value); err != nil {
				break
			}
			n++
		}
		require.Greater(t, n, 0)

		got, err := c.Uncompress()
		require.NoError(t, err)
		require.Len(t, got, n)
		for i := 0; i < n; i++ {
			require.Equal(t, samples[i].TS, got[i].TS, "version %d sample %d ts", version, i)
			require.Equal(t, float64(samples[i].Value), float64(got[i].Value), "version %d sample %d value", version, i)
		}
		buf = make([]byte, 64*1024)
	}
}

func TestV2HandlesSpecialFloats(t *testing.T) {
	buf := make([]byte, 4096)
	c := New(V2, ResolutionMillis, 1000, buf)
	vals := []schema.Float{1.0, schema.Float(math.NaN()), schema.Float(math.Inf(1)), schema.Float(math.Inf(-1)), 0, -0.0}
	ts := int64(1000)
	for _, v := range vals {
		ts += 1000
		require.NoError(t, c.Compress(ts, v))
	}
	got, err := c.Uncompress()
	require.NoError(t, err)
	require.Len(t, got, len(vals))
	for i, v := range vals {
		if math.IsNaN(float64(v)) {
			require.True(t, math.IsNaN(float64(got[i].Value)))
		} else {
			require.Equal(t, float64(v), float64(got[i].Value))
		}
	}
}

func TestPageAtomicityOfAppend(t *testing.T) {
	buf := make([]byte, 12) // tiny: room for exactly one v2 sample (4+8 bytes) then no more
	c := New(V2, ResolutionMillis, 0, buf)
	require.NoError(t, c.Compress(100, 1.0))
	before := make([]byte, len(buf))
	copy(before, buf)

	err := c.Compress(200, 2.0)
	require.ErrorIs(t, err, ErrFull)
	require.True(t, c.IsFull())
	require.Equal(t, before, buf, "buffer must be unchanged after a Full result")
}

func TestV0OutOfOrderInsertion(t *testing.T) {
	buf := make([]byte, v0RecordSize*8)
	c := New(V0, ResolutionMillis, 0, buf)
	order := []int64{3000, 1000, 2000, 500}
	for _, ts := range order {
		require.NoError(t, c.Compress(ts, schema.Float(ts)))
	}
	got, err := c.Uncompress()
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].TS, got[i].TS)
	}
}
