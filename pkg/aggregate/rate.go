package aggregate

import (
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// RateOptions configures §4.9's rate derivation: rate[i] = (v[i] -
// v[i-1]) / dt_seconds.
type RateOptions struct {
	Counter    bool // treat negative deltas as wrap-around counter_max
	CounterMax float64
	DropResets bool    // skip negative deltas entirely
	ResetValue float64 // emit 0 when computed rate exceeds this; 0 disables
}

// Rate computes the rate series for a timestamp-sorted sample stream.
// The first sample has no predecessor and is dropped from the output.
func Rate(samples []compress.Sample, opt RateOptions) []compress.Sample {
	if len(samples) < 2 {
		return nil
	}
	out := make([]compress.Sample, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dtSeconds := float64(cur.TS-prev.TS) / 1000.0
		if dtSeconds <= 0 {
			continue
		}
		delta := float64(cur.Value) - float64(prev.Value)
		if delta < 0 {
			if opt.DropResets {
				continue
			}
			if opt.Counter {
				delta = opt.CounterMax - float64(prev.Value) + float64(cur.Value)
			}
		}
		r := delta / dtSeconds
		if opt.ResetValue > 0 && r > opt.ResetValue {
			r = 0
		}
		out = append(out, compress.Sample{TS: cur.TS, Value: schema.Float(r)})
	}
	return out
}
