package compress

import (
	"math"

	"github.com/nova-ts/tsdb/pkg/schema"
)

const v0RecordSize = 16 // 8 bytes ts + 8 bytes value

// v0Compressor stores (ts, value) pairs at 16 bytes each, insertion
// sorted by timestamp (§4.2 "v0 -- uncompressed"). It is used for
// out-of-order pages, where the timestamp ordering invariant that lets
// v1/v2 use pure delta encoding does not hold.
type v0Compressor struct {
	buf   []byte
	count int
	full  bool
}

func newV0(buf []byte) *v0Compressor {
	return &v0Compressor{buf: buf}
}

func (c *v0Compressor) capacity() int { return len(c.buf) / v0RecordSize }

func (c *v0Compressor) recordAt(i int) (int64, schema.Float) {
	off := i * v0RecordSize
	ts := int64(beUint64(c.buf[off : off+8]))
	val := math.Float64frombits(beUint64(c.buf[off+8 : off+16]))
	return ts, schema.Float(val)
}

func (c *v0Compressor) writeRecordAt(i int, ts int64, v schema.Float) {
	off := i * v0RecordSize
	putBEUint64(c.buf[off:off+8], uint64(ts))
	putBEUint64(c.buf[off+8:off+16], math.Float64bits(float64(v)))
}

func (c *v0Compressor) Compress(ts int64, v schema.Float) error {
	if c.count >= c.capacity() {
		c.full = true
		return ErrFull
	}

	idx := c.searchInsertionPoint(ts)
	if idx < c.count {
		// shift [idx, count) right by one record to make room.
		src := c.buf[idx*v0RecordSize : c.count*v0RecordSize]
		dst := c.buf[(idx+1)*v0RecordSize : (c.count+1)*v0RecordSize]
		copy(dst, src)
	}
	c.writeRecordAt(idx, ts, v)
	c.count++
	return nil
}

// searchInsertionPoint returns the index of the first record with
// timestamp > ts (binary search over the already-sorted prefix), so a
// repeated timestamp lands after the records already holding it.
func (c *v0Compressor) searchInsertionPoint(ts int64) int {
	lo, hi := 0, c.count
	for lo < hi {
		mid := (lo + hi) / 2
		midTS, _ := c.recordAt(mid)
		if midTS <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (c *v0Compressor) Uncompress() ([]Sample, error) {
	out := make([]Sample, c.count)
	for i := 0; i < c.count; i++ {
		ts, v := c.recordAt(i)
		out[i] = Sample{TS: ts, Value: v}
	}
	return out, nil
}

func (c *v0Compressor) DPCount() int  { return c.count }
func (c *v0Compressor) IsFull() bool  { return c.full }
func (c *v0Compressor) Checkpoint() int64 {
	return int64(c.count) * v0RecordSize * 8
}

func (c *v0Compressor) LastTS() (int64, bool) {
	if c.count == 0 {
		return 0, false
	}
	// Not necessarily the max element by insertion order for v0 since it
	// is kept sorted; the last-sorted record is the highest timestamp.
	ts, _ := c.recordAt(c.count - 1)
	return ts, true
}

func beUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func putBEUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}
