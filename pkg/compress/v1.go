package compress

import (
	"math"

	"github.com/nova-ts/tsdb/pkg/bitstream"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// v1Compressor implements the byte-XOR codec of §4.2: delta-of-delta
// timestamps with an escape sentinel, and XOR-of-previous values with a
// non-zero-byte control mask.
type v1Compressor struct {
	stream *bitstream.Stream
	res    Resolution
	startTS int64

	count int
	full  bool

	prevTS    int64
	prevDelta int64
	prevVal   schema.Float
}

func newV1(res Resolution, startTS int64, buf []byte) *v1Compressor {
	return &v1Compressor{stream: bitstream.New(buf), res: res, startTS: startTS}
}

func (c *v1Compressor) dodWidth() int {
	if c.res == ResolutionSeconds {
		return 8
	}
	return 16
}

func (c *v1Compressor) firstDeltaWidth() int {
	if c.res == ResolutionMillis {
		return 64
	}
	return 32
}

func signExtend(raw uint64, width int) int64 {
	if width == 64 {
		return int64(raw)
	}
	signBit := uint64(1) << (width - 1)
	if raw&signBit != 0 {
		return int64(raw) - int64(1<<uint(width))
	}
	return int64(raw)
}

func (c *v1Compressor) Compress(ts int64, v schema.Float) error {
	c.stream.SaveCheckpoint()
	if err := c.compressLocked(ts, v); err != nil {
		c.stream.RestoreCheckpoint()
		c.full = true
		return ErrFull
	}
	c.prevTS, c.prevVal = ts, v
	c.count++
	return nil
}

func (c *v1Compressor) compressLocked(ts int64, v schema.Float) error {
	if c.count == 0 {
		w := c.firstDeltaWidth()
		delta := ts - c.startTS
		if err := c.stream.WriteUint(uint64(delta)&mask(w), w); err != nil {
			return err
		}
		return c.stream.WriteUint(math.Float64bits(float64(v)), 64)
	}

	delta := ts - c.prevTS
	dod := delta - c.prevDelta
	w := c.dodWidth()
	sentinel := -(int64(1) << uint(w-1))
	minUsable := sentinel + 1
	maxUsable := int64(1)<<uint(w-1) - 1

	if dod >= minUsable && dod <= maxUsable {
		if err := c.stream.WriteUint(uint64(dod)&mask(w), w); err != nil {
			return err
		}
	} else {
		if err := c.stream.WriteUint(uint64(sentinel)&mask(w), w); err != nil {
			return err
		}
		if err := c.stream.WriteUint(uint64(int32(dod))&mask(32), 32); err != nil {
			return err
		}
	}
	c.prevDelta = delta

	x := math.Float64bits(float64(v)) ^ math.Float64bits(float64(c.prevVal))
	var control byte
	var nonZeroBytes [8]byte
	n := 0
	for j := 0; j < 8; j++ {
		shift := uint(56 - 8*j)
		b := byte(x >> shift)
		if b != 0 {
			control |= 1 << uint(7-j)
			nonZeroBytes[n] = b
			n++
		}
	}
	if err := c.stream.WriteUint(uint64(control), 8); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := c.stream.WriteUint(uint64(nonZeroBytes[i]), 8); err != nil {
			return err
		}
	}
	return nil
}

func mask(w int) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(w)) - 1
}

func (c *v1Compressor) Uncompress() ([]Sample, error) {
	samples := make([]Sample, 0, c.count)
	cur := c.stream.CursorAt(0)
	var prevTS int64
	var prevDelta int64
	var prevVal uint64

	for i := 0; i < c.count; i++ {
		if i == 0 {
			w := c.firstDeltaWidth()
			raw, err := c.stream.ReadUint(cur, w)
			if err != nil {
				return nil, err
			}
			delta := signExtend(raw, w)
			prevTS = c.startTS + delta
			vbits, err := c.stream.ReadUint(cur, 64)
			if err != nil {
				return nil, err
			}
			prevVal = vbits
			samples = append(samples, Sample{TS: prevTS, Value: schema.Float(math.Float64frombits(vbits))})
			continue
		}

		w := c.dodWidth()
		raw, err := c.stream.ReadUint(cur, w)
		if err != nil {
			return nil, err
		}
		dod := signExtend(raw, w)
		sentinel := -(int64(1) << uint(w-1))
		if dod == sentinel {
			raw32, err := c.stream.ReadUint(cur, 32)
			if err != nil {
				return nil, err
			}
			dod = signExtend(raw32, 32)
		}
		delta := prevDelta + dod
		ts := prevTS + delta
		prevTS, prevDelta = ts, delta

		controlRaw, err := c.stream.ReadUint(cur, 8)
		if err != nil {
			return nil, err
		}
		control := byte(controlRaw)
		var x uint64
		for j := 0; j < 8; j++ {
			if control&(1<<uint(7-j)) != 0 {
				b, err := c.stream.ReadUint(cur, 8)
				if err != nil {
					return nil, err
				}
				x |= b << uint(56-8*j)
			}
		}
		vbits := prevVal ^ x
		prevVal = vbits
		samples = append(samples, Sample{TS: ts, Value: schema.Float(math.Float64frombits(vbits))})
	}
	return samples, nil
}

func (c *v1Compressor) replayState(samples []Sample) {
	c.count = len(samples)
	if len(samples) == 0 {
		return
	}
	last := samples[len(samples)-1]
	c.prevTS = last.TS
	c.prevVal = last.Value
	if len(samples) >= 2 {
		c.prevDelta = last.TS - samples[len(samples)-2].TS
	}
}

func (c *v1Compressor) DPCount() int      { return c.count }
func (c *v1Compressor) IsFull() bool      { return c.full }
func (c *v1Compressor) Checkpoint() int64 { return c.stream.SizeInBits() }

func (c *v1Compressor) LastTS() (int64, bool) {
	if c.count == 0 {
		return 0, false
	}
	return c.prevTS, true
}
