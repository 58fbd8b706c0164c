// Package aggregate implements the downsampler, aggregator, and rate
// functions of §4.9. Functions fold a stream of (ts, value) samples
// into per-bucket results using the same vocabulary
// (avg/count/dev/first/last/max/min/p<q>/sum/none); percentile and
// top/bottom selection are grounded on OpenTSDB's aggregator shape as
// shown in other_examples' gofr OpenTSDB query datasource, while the
// bucket-alignment/one-sample-at-a-time feed loop mirrors the teacher's
// resampler.SimpleResampler step-decimation shape, generalized from
// fixed-step decimation to an arbitrary folding function.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// Func names one of the fold functions named in §4.9.
type Func string

const (
	FuncAvg   Func = "avg"
	FuncCount Func = "count"
	FuncDev   Func = "dev"
	FuncFirst Func = "first"
	FuncLast  Func = "last"
	FuncMax   Func = "max"
	FuncMin   Func = "min"
	FuncSum   Func = "sum"
	FuncNone  Func = "none"
)

// IsPercentile reports whether f is a "p<q>" function and returns q in
// [50,99] or 999 (p999 == 99.9%).
func IsPercentile(f Func) (q int, ok bool) {
	s := string(f)
	if !strings.HasPrefix(s, "p") {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, false
	}
	if n == 999 || (n >= 50 && n <= 99) {
		return n, true
	}
	return 0, false
}

// Fill controls synthetic samples at empty boundary intervals (§4.9).
type Fill string

const (
	FillNone Fill = "none"
	FillNaN  Fill = "nan"
	FillNull Fill = "null"
	FillZero Fill = "zero"
)

func (f Fill) value() schema.Float {
	switch f {
	case FillZero:
		return 0
	default:
		return schema.NaN
	}
}

// Fold applies fn to a bucket's collected values, matching §4.9's
// function semantics (percentile handled separately via Percentile).
func Fold(fn Func, values []schema.Float) schema.Float {
	if len(values) == 0 {
		return schema.NaN
	}
	switch fn {
	case FuncCount:
		return schema.Float(len(values))
	case FuncFirst:
		return values[0]
	case FuncLast:
		return values[len(values)-1]
	case FuncSum:
		var sum float64
		for _, v := range values {
			sum += float64(v)
		}
		return schema.Float(sum)
	case FuncAvg:
		var sum float64
		for _, v := range values {
			sum += float64(v)
		}
		return schema.Float(sum / float64(len(values)))
	case FuncMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case FuncMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case FuncDev:
		var sum float64
		for _, v := range values {
			sum += float64(v)
		}
		mean := sum / float64(len(values))
		var sq float64
		for _, v := range values {
			d := float64(v) - mean
			sq += d * d
		}
		return schema.Float(math.Sqrt(sq / float64(len(values))))
	default:
		if q, ok := IsPercentile(fn); ok {
			return Percentile(values, q)
		}
		return values[len(values)-1]
	}
}

// Percentile implements §4.9's linear-interpolation percentile: rank =
// q/100 * (len+1), clamped to [1, len]. q=999 means 99.9%.
func Percentile(values []schema.Float, q int) schema.Float {
	if len(values) == 0 {
		return schema.NaN
	}
	if len(values) == 1 {
		return values[0]
	}
	sorted := make([]schema.Float, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	qf := float64(q) / 10.0 // q=999 -> 99.9
	if q != 999 {
		qf = float64(q)
	}
	rank := qf / 100.0 * float64(len(sorted)+1)
	if rank < 1 {
		rank = 1
	}
	if rank > float64(len(sorted)) {
		rank = float64(len(sorted))
	}
	lo := int(math.Floor(rank)) - 1
	hi := int(math.Ceil(rank)) - 1
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - math.Floor(rank)
	return schema.Float(float64(sorted[lo]) + frac*(float64(sorted[hi])-float64(sorted[lo])))
}

// Downsampler buckets a timestamp-ordered sample stream into aligned
// intervals, feeding one sample at a time and emitting one result per
// bucket on bucket change (§4.9).
type Downsampler struct {
	interval int64
	fn       Func
	fill     Fill

	curBucket int64
	haveBucket bool
	values    []schema.Float
	out       []compress.Sample
}

func NewDownsampler(interval int64, fn Func, fill Fill) *Downsampler {
	return &Downsampler{interval: interval, fn: fn, fill: fill}
}

func bucketStart(ts, interval int64) int64 {
	return (ts / interval) * interval
}

// Feed processes one sample in timestamp order.
func (d *Downsampler) Feed(ts int64, v schema.Float) {
	b := bucketStart(ts, d.interval)
	if !d.haveBucket {
		d.curBucket = b
		d.haveBucket = true
	}
	if b != d.curBucket {
		d.flush(b)
	}
	d.values = append(d.values, v)
}

func (d *Downsampler) flush(nextBucket int64) {
	d.out = append(d.out, compress.Sample{TS: d.curBucket, Value: Fold(d.fn, d.values)})
	d.values = d.values[:0]

	if d.fill != FillNone {
		for gap := d.curBucket + d.interval; gap < nextBucket; gap += d.interval {
			d.out = append(d.out, compress.Sample{TS: gap, Value: d.fill.value()})
		}
	}
	d.curBucket = nextBucket
}

// Finish emits the final pending bucket, then optionally fills trailing
// empty intervals up to (but not including) end.
func (d *Downsampler) Finish(end int64) []compress.Sample {
	if d.haveBucket {
		d.out = append(d.out, compress.Sample{TS: d.curBucket, Value: Fold(d.fn, d.values)})
		if d.fill != FillNone {
			for gap := d.curBucket + d.interval; gap < end; gap += d.interval {
				d.out = append(d.out, compress.Sample{TS: gap, Value: d.fill.value()})
			}
		}
	}
	return d.out
}

// ParseDownsample parses a "<interval><unit>-<func>[-<fill>]" spec,
// e.g. "60000ms-avg-zero" or "1m-avg" (§4.9, §8 scenario 4).
func ParseDownsample(spec string) (interval int64, fn Func, fill Fill, err error) {
	parts := strings.Split(spec, "-")
	if len(parts) < 2 {
		return 0, "", "", fmt.Errorf("aggregate: malformed downsample spec %q", spec)
	}
	interval, err = parseDuration(parts[0])
	if err != nil {
		return 0, "", "", err
	}
	fn = Func(parts[1])
	fill = FillNone
	if len(parts) >= 3 {
		fill = Fill(parts[2])
	}
	return interval, fn, fill, nil
}

func parseDuration(s string) (int64, error) {
	for i, unit := range []string{"ms", "s", "m", "h", "d"} {
		if strings.HasSuffix(s, unit) {
			numStr := strings.TrimSuffix(s, unit)
			n, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("aggregate: bad duration %q: %w", s, err)
			}
			mult := []int64{1, 1000, 60000, 3600000, 86400000}[i]
			return n * mult, nil
		}
	}
	return 0, fmt.Errorf("aggregate: unknown duration unit in %q", s)
}
