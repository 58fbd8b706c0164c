package aggregate

import (
	"sort"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// Series is one input stream to the Aggregator: a label (carried
// through top/bottom selection) plus its already-downsampled samples.
type Series struct {
	Label   string
	Samples []compress.Sample
}

// Aggregate merges N downsampled series into one result stream per
// §4.9's Aggregator, grouping by timestamp and folding each group's
// values with fn. FuncNone concatenates the input series' samples in
// input order without folding; the result is one stream, not one per
// input series, and it is not re-sorted by timestamp. top<n>/bottom<n>
// are handled by TopN/BottomN, not here.
func Aggregate(fn Func, series []Series) []compress.Sample {
	if fn == FuncNone {
		var out []compress.Sample
		for _, s := range series {
			out = append(out, s.Samples...)
		}
		return out
	}

	byTS := make(map[int64][]schema.Float)
	for _, s := range series {
		for _, sample := range s.Samples {
			byTS[sample.TS] = append(byTS[sample.TS], sample.Value)
		}
	}
	timestamps := make([]int64, 0, len(byTS))
	for ts := range byTS {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := make([]compress.Sample, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, compress.Sample{TS: ts, Value: Fold(fn, byTS[ts])})
	}
	return out
}

// seriesExtent returns the max (for TopN) or min (for BottomN) value
// across a series' last n points, per §4.9: "keep the top/bottom n
// input series (by their last N points' max/min) as separate result
// series".
func seriesExtent(s Series, lastN int, wantMax bool) schema.Float {
	start := 0
	if len(s.Samples) > lastN {
		start = len(s.Samples) - lastN
	}
	window := s.Samples[start:]
	if len(window) == 0 {
		return schema.NaN
	}
	best := window[0].Value
	for _, sample := range window[1:] {
		if wantMax && sample.Value > best {
			best = sample.Value
		}
		if !wantMax && sample.Value < best {
			best = sample.Value
		}
	}
	return best
}

// TopN keeps the n series with the highest seriesExtent, in
// descending order.
func TopN(series []Series, n, lastN int) []Series {
	return selectN(series, n, lastN, true)
}

// BottomN keeps the n series with the lowest seriesExtent, in
// ascending order.
func BottomN(series []Series, n, lastN int) []Series {
	return selectN(series, n, lastN, false)
}

func selectN(series []Series, n, lastN int, wantMax bool) []Series {
	type scored struct {
		s     Series
		value schema.Float
	}
	scoredList := make([]scored, len(series))
	for i, s := range series {
		scoredList[i] = scored{s: s, value: seriesExtent(s, lastN, wantMax)}
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if wantMax {
			return scoredList[i].value > scoredList[j].value
		}
		return scoredList[i].value < scoredList[j].value
	})
	if n > len(scoredList) {
		n = len(scoredList)
	}
	out := make([]Series, n)
	for i := 0; i < n; i++ {
		out[i] = scoredList[i].s
	}
	return out
}
