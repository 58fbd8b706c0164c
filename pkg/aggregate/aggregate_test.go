package aggregate

import (
	"testing"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestFoldBasics(t *testing.T) {
	vals := []schema.Float{1, 2, 4}
	require.Equal(t, schema.Float(3), Fold(FuncCount, vals))
	require.Equal(t, schema.Float(7), Fold(FuncSum, vals))
	require.InDelta(t, float64(7)/3, float64(Fold(FuncAvg, vals)), 1e-9)
	require.Equal(t, schema.Float(1), Fold(FuncFirst, vals))
	require.Equal(t, schema.Float(4), Fold(FuncLast, vals))
	require.Equal(t, schema.Float(4), Fold(FuncMax, vals))
	require.Equal(t, schema.Float(1), Fold(FuncMin, vals))
}

func TestDownsampleAvgWithFillZero(t *testing.T) {
	// Scenario from SPEC_FULL.md §8 scenario 4.
	d := NewDownsampler(60000, FuncAvg, FillZero)
	d.Feed(3000000, 1)
	d.Feed(3060000, 2)
	d.Feed(3180000, 4)
	out := d.Finish(3240000 + 60000)

	want := map[int64]schema.Float{
		3000000: 1, 3060000: 2, 3120000: 0, 3180000: 4, 3240000: 0,
	}
	require.Len(t, out, len(want))
	for _, s := range out {
		require.Equal(t, want[s.TS], s.Value, "ts=%d", s.TS)
	}
}

func TestParseDownsampleSpec(t *testing.T) {
	interval, fn, fill, err := ParseDownsample("60000ms-avg-zero")
	require.NoError(t, err)
	require.Equal(t, int64(60000), interval)
	require.Equal(t, FuncAvg, fn)
	require.Equal(t, FillZero, fill)

	interval2, fn2, fill2, err := ParseDownsample("1m-sum")
	require.NoError(t, err)
	require.Equal(t, int64(60000), interval2)
	require.Equal(t, FuncSum, fn2)
	require.Equal(t, FillNone, fill2)
}

func TestPercentileSingleAndEmpty(t *testing.T) {
	require.True(t, isNaN(Percentile(nil, 50)))
	require.Equal(t, schema.Float(5), Percentile([]schema.Float{5}, 90))
}

func isNaN(f schema.Float) bool { return f.IsNaN() }

func TestAggregateAvgAcrossSeries(t *testing.T) {
	series := []Series{
		{Label: "a", Samples: []compress.Sample{{TS: 1000, Value: 2}, {TS: 2000, Value: 4}}},
		{Label: "b", Samples: []compress.Sample{{TS: 1000, Value: 6}, {TS: 2000, Value: 8}}},
	}
	out := Aggregate(FuncAvg, series)
	require.Len(t, out, 2)
	require.Equal(t, schema.Float(4), out[0].Value)
	require.Equal(t, schema.Float(6), out[1].Value)
}

func TestTopNSelectsHighestSeries(t *testing.T) {
	series := []Series{
		{Label: "low", Samples: []compress.Sample{{TS: 1, Value: 1}}},
		{Label: "high", Samples: []compress.Sample{{TS: 1, Value: 100}}},
		{Label: "mid", Samples: []compress.Sample{{TS: 1, Value: 50}}},
	}
	top := TopN(series, 2, 10)
	require.Len(t, top, 2)
	require.Equal(t, "high", top[0].Label)
	require.Equal(t, "mid", top[1].Label)
}

func TestRateOnCounterWrap(t *testing.T) {
	// Scenario from SPEC_FULL.md §8 scenario 6.
	samples := []compress.Sample{{TS: 0, Value: 10}, {TS: 10000, Value: 3}}
	out := Rate(samples, RateOptions{Counter: true, CounterMax: 100, DropResets: false})
	require.Len(t, out, 1)
	require.InDelta(t, 9.3, float64(out[0].Value), 1e-9)
}

func TestRateDropResets(t *testing.T) {
	samples := []compress.Sample{{TS: 0, Value: 10}, {TS: 10000, Value: 3}, {TS: 20000, Value: 13}}
	out := Rate(samples, RateOptions{DropResets: true})
	require.Len(t, out, 1)
	require.Equal(t, int64(20000), out[0].TS)
}

func TestLTTBPassesThroughShortSeries(t *testing.T) {
	samples := make([]compress.Sample, 10)
	for i := range samples {
		samples[i] = compress.Sample{TS: int64(i), Value: schema.Float(i)}
	}
	out, err := LTTB(samples, 5)
	require.NoError(t, err)
	require.Equal(t, samples, out, "series shorter than 100 points must pass through unchanged")
}

func TestLTTBReducesLongSeries(t *testing.T) {
	samples := make([]compress.Sample, 1000)
	for i := range samples {
		samples[i] = compress.Sample{TS: int64(i), Value: schema.Float(i % 17)}
	}
	out, err := LTTB(samples, 50)
	require.NoError(t, err)
	require.Len(t, out, 50)
	require.Equal(t, samples[0], out[0])
	require.Equal(t, samples[len(samples)-1], out[len(out)-1])
}
