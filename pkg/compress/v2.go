package compress

import (
	"math"
	"math/bits"

	"github.com/nova-ts/tsdb/pkg/bitstream"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// v2Compressor implements the Gorilla bit-level codec of §4.2.
type v2Compressor struct {
	stream  *bitstream.Stream
	startTS int64

	count int
	full  bool

	prevTS    int64
	prevDelta int64
	prevVal   uint64

	blockL, blockT int // previous XOR block's leading/trailing zero counts
}

func newV2(startTS int64, buf []byte) *v2Compressor {
	return &v2Compressor{stream: bitstream.New(buf), startTS: startTS}
}

func (c *v2Compressor) Compress(ts int64, v schema.Float) error {
	c.stream.SaveCheckpoint()
	if err := c.compressLocked(ts, v); err != nil {
		c.stream.RestoreCheckpoint()
		c.full = true
		return ErrFull
	}
	c.count++
	return nil
}

func (c *v2Compressor) compressLocked(ts int64, v schema.Float) error {
	vbits := math.Float64bits(float64(v))

	if c.count == 0 {
		delta := ts - c.startTS
		if err := c.stream.WriteUint(uint64(delta)&mask(32), 32); err != nil {
			return err
		}
		if err := c.stream.WriteUint(vbits, 64); err != nil {
			return err
		}
		c.prevTS, c.prevDelta, c.prevVal = ts, 0, vbits
		return nil
	}

	delta := ts - c.prevTS
	dod := delta - c.prevDelta
	if err := c.writeDod(dod); err != nil {
		return err
	}
	c.prevDelta = delta
	c.prevTS = ts

	x := vbits ^ c.prevVal
	if err := c.writeXOR(x); err != nil {
		return err
	}
	c.prevVal = vbits
	return nil
}

func (c *v2Compressor) writeDod(dod int64) error {
	switch {
	case dod == 0:
		return c.stream.WriteUint(0, 1)
	case dod >= -8192 && dod <= 8191:
		if err := c.stream.WriteUint(0b10, 2); err != nil {
			return err
		}
		return c.stream.WriteUint(uint64(dod)&mask(14), 14)
	case dod >= -65536 && dod <= 65535:
		if err := c.stream.WriteUint(0b110, 3); err != nil {
			return err
		}
		return c.stream.WriteUint(uint64(dod)&mask(17), 17)
	default:
		if err := c.stream.WriteUint(0b111, 3); err != nil {
			return err
		}
		return c.stream.WriteUint(uint64(dod)&mask(33), 33)
	}
}

func (c *v2Compressor) writeXOR(x uint64) error {
	if x == 0 {
		return c.stream.WriteUint(0, 1)
	}
	l := bits.LeadingZeros64(x)
	t := bits.TrailingZeros64(x)

	if c.blockL > 0 && c.blockL <= l && c.blockT <= t {
		if err := c.stream.WriteUint(0b10, 2); err != nil {
			return err
		}
		width := 64 - c.blockL - c.blockT
		middle := (x >> uint(c.blockT)) & mask(width)
		return c.stream.WriteUint(middle, width)
	}

	if err := c.stream.WriteUint(0b11, 2); err != nil {
		return err
	}
	if err := c.stream.WriteUint(uint64(l), 5); err != nil {
		return err
	}
	meaningful := 64 - l - t
	field := meaningful
	if meaningful == 64 {
		field = 0
	}
	if err := c.stream.WriteUint(uint64(field), 6); err != nil {
		return err
	}
	middle := (x >> uint(t)) & mask(meaningful)
	if err := c.stream.WriteUint(middle, meaningful); err != nil {
		return err
	}
	c.blockL, c.blockT = l, t
	return nil
}

func (c *v2Compressor) Uncompress() ([]Sample, error) {
	samples := make([]Sample, 0, c.count)
	cur := c.stream.CursorAt(0)

	var prevTS, prevDelta int64
	var prevVal uint64
	var blockL, blockT int

	for i := 0; i < c.count; i++ {
		if i == 0 {
			rawDelta, err := c.stream.ReadUint(cur, 32)
			if err != nil {
				return nil, err
			}
			delta := signExtend(rawDelta, 32)
			prevTS = c.startTS + delta
			prevDelta = 0
			vbits, err := c.stream.ReadUint(cur, 64)
			if err != nil {
				return nil, err
			}
			prevVal = vbits
			samples = append(samples, Sample{TS: prevTS, Value: schema.Float(math.Float64frombits(vbits))})
			continue
		}

		dod, err := readDod(c.stream, cur)
		if err != nil {
			return nil, err
		}
		delta := prevDelta + dod
		ts := prevTS + delta
		prevTS, prevDelta = ts, delta

		x, newBlock, err := readXOR(c.stream, cur, blockL, blockT)
		if err != nil {
			return nil, err
		}
		if newBlock != nil {
			blockL, blockT = newBlock[0], newBlock[1]
		}
		vbits := prevVal ^ x
		prevVal = vbits
		samples = append(samples, Sample{TS: ts, Value: schema.Float(math.Float64frombits(vbits))})
	}
	return samples, nil
}

func readDod(s *bitstream.Stream, cur *bitstream.Cursor) (int64, error) {
	b0, err := s.ReadBit(cur)
	if err != nil {
		return 0, err
	}
	if b0 == 0 {
		return 0, nil
	}
	b1, err := s.ReadBit(cur)
	if err != nil {
		return 0, err
	}
	if b1 == 0 {
		raw, err := s.ReadUint(cur, 14)
		if err != nil {
			return 0, err
		}
		return signExtend(raw, 14), nil
	}
	b2, err := s.ReadBit(cur)
	if err != nil {
		return 0, err
	}
	if b2 == 0 {
		raw, err := s.ReadUint(cur, 17)
		if err != nil {
			return 0, err
		}
		return signExtend(raw, 17), nil
	}
	raw, err := s.ReadUint(cur, 33)
	if err != nil {
		return 0, err
	}
	return signExtend(raw, 33), nil
}

// readXOR decodes one XOR-encoded value block. Returns the new
// (blockL, blockT) pair via newBlock when a '11' long-form block was
// read, or nil when the short form reused the caller's block / X was 0.
func readXOR(s *bitstream.Stream, cur *bitstream.Cursor, blockL, blockT int) (uint64, []int, error) {
	b0, err := s.ReadBit(cur)
	if err != nil {
		return 0, nil, err
	}
	if b0 == 0 {
		return 0, nil, nil
	}
	b1, err := s.ReadBit(cur)
	if err != nil {
		return 0, nil, err
	}
	if b1 == 0 {
		width := 64 - blockL - blockT
		middle, err := s.ReadUint(cur, width)
		if err != nil {
			return 0, nil, err
		}
		return middle << uint(blockT), nil, nil
	}
	lRaw, err := s.ReadUint(cur, 5)
	if err != nil {
		return 0, nil, err
	}
	fieldRaw, err := s.ReadUint(cur, 6)
	if err != nil {
		return 0, nil, err
	}
	meaningful := int(fieldRaw)
	if meaningful == 0 {
		meaningful = 64
	}
	l := int(lRaw)
	t := 64 - l - meaningful
	middle, err := s.ReadUint(cur, meaningful)
	if err != nil {
		return 0, nil, err
	}
	return middle << uint(t), []int{l, t}, nil
}

func (c *v2Compressor) replayState(samples []Sample) {
	c.count = len(samples)
	if len(samples) == 0 {
		return
	}
	last := samples[len(samples)-1]
	c.prevTS = last.TS
	c.prevVal = math.Float64bits(float64(last.Value))
	if len(samples) >= 2 {
		c.prevDelta = last.TS - samples[len(samples)-2].TS
	}
	// blockL/blockT are reconstructed lazily: the next Compress call may
	// pick the long form unnecessarily once after a cold restore, which
	// is a (documented) minor compression-ratio cost, never a
	// correctness issue, since the long form is always self-describing.
}

func (c *v2Compressor) DPCount() int      { return c.count }
func (c *v2Compressor) IsFull() bool      { return c.full }
func (c *v2Compressor) Checkpoint() int64 { return c.stream.SizeInBits() }

func (c *v2Compressor) LastTS() (int64, bool) {
	if c.count == 0 {
		return 0, false
	}
	return c.prevTS, true
}
