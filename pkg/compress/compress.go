// Package compress implements the three page compressor variants of
// §4.2: v0 (raw), v1 (byte-XOR) and v2 (Gorilla bit-level). All three
// share the same contract so that a Page (internal/page) can hold
// whichever version a data directory was created with.
package compress

import (
	"errors"

	"github.com/nova-ts/tsdb/pkg/bitstream"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// ErrFull is returned by Compress when the backing buffer cannot hold
// another sample. The caller (TimeSeries) seals the page and allocates a
// new one.
var ErrFull = errors.New("compress: page full")

// Sample is a decoded (timestamp, value) pair.
type Sample struct {
	TS    int64
	Value schema.Float
}

// Resolution is the process-wide timestamp unit, fixed for the life of a
// data directory (§3).
type Resolution int

const (
	ResolutionSeconds Resolution = iota
	ResolutionMillis
)

// Version identifies which codec a page uses; persisted in the page
// header (compress_info_on_disk, §4.3) and the bucket manifest (§6).
type Version uint8

const (
	V0 Version = 0
	V1 Version = 1
	V2 Version = 2
)

// Compressor is the shared contract of §4.2.
type Compressor interface {
	// Compress appends one sample. Returns ErrFull if the page cannot
	// hold it; the page is then byte-identical to its pre-call state.
	Compress(ts int64, v schema.Float) error
	// Uncompress decodes every sample written so far, in order.
	Uncompress() ([]Sample, error)
	// DPCount returns the number of samples successfully compressed.
	DPCount() int
	// IsFull reports whether any Compress call has returned ErrFull; the
	// flag stays set once raised.
	IsFull() bool
	// Checkpoint returns the bit position up to which the compressor's
	// state is durable; stored in the page header by Page.flush.
	Checkpoint() int64
	// LastTS returns the timestamp of the most recently compressed
	// sample, or (0, false) if none has been written yet.
	LastTS() (int64, bool)
}

// New constructs a fresh compressor of the given version writing into
// buf, anchored at startTS.
func New(version Version, res Resolution, startTS int64, buf []byte) Compressor {
	switch version {
	case V0:
		return newV0(buf)
	case V1:
		return newV1(res, startTS, buf)
	default:
		return newV2(startTS, buf)
	}
}

// Restore reconstructs a compressor of the given version from existing
// page bytes, for cold-open / crash recovery (§4.3 Page.restore). bitPos
// is the durable write-cursor position recorded in the page header.
func Restore(version Version, res Resolution, startTS int64, buf []byte, bitPos int64) (Compressor, error) {
	switch version {
	case V0:
		c := newV0(buf)
		c.count = int(bitPos / (16 * 8))
		return c, nil
	case V1:
		c := newV1(res, startTS, buf)
		c.stream = bitstream.Open(buf, bitPos)
		return restoreFromStream(c)
	default:
		c := newV2(startTS, buf)
		c.stream = bitstream.Open(buf, bitPos)
		return restoreFromStream(c)
	}
}

// restoreFromStream re-derives the in-memory decode state (prevTS,
// prevVal, dod history, block history, count) by replaying Uncompress
// once after Open. This costs O(n) at cold-open time only.
func restoreFromStream(c interface {
	Uncompress() ([]Sample, error)
}) (Compressor, error) {
	samples, err := c.Uncompress()
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case *v1Compressor:
		v.replayState(samples)
		return v, nil
	case *v2Compressor:
		v.replayState(samples)
		return v, nil
	}
	return c.(Compressor), nil
}
