// Package page implements the Page type of §4.3: a fixed-size byte
// region owning one compressor instance, used both for in-order and
// out-of-order sample storage inside a TimeSeries.
package page

import (
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// Header is the compress_info_on_disk record (§4.3/§4.7): everything a
// cold reader needs to re-open a page's bitstream without other state.
// It is persisted in the owning Tsdb's header.<N> file, one record per
// page slot.
type Header struct {
	BitPos    int64           // durable write-cursor position, in bits
	Version   compress.Version
	StartTS   int64
	IsOOO     bool
	Full      bool
	TSID      uint32
	FileID    int
	PageIndex int
}

// Page owns a byte region (a slice of its Tsdb's mmap) and an in-memory
// compressor over that region.
type Page struct {
	Header

	buf        []byte
	compressor compress.Compressor
	res        compress.Resolution
}

// New allocates a fresh page backed by buf (a pageSize-sized slice of
// the owning data file's mmap), anchored at startTS.
func New(tsid uint32, fileID, pageIndex int, startTS int64, isOOO bool, version compress.Version, res compress.Resolution, buf []byte) *Page {
	return &Page{
		Header: Header{
			StartTS:   startTS,
			IsOOO:     isOOO,
			Version:   version,
			TSID:      tsid,
			FileID:    fileID,
			PageIndex: pageIndex,
		},
		buf:        buf,
		compressor: compress.New(version, res, startTS, buf),
		res:        res,
	}
}

// Open reconstructs a page from a durable header plus the backing bytes
// (§4.3 Page.restore): cold-open, after process restart or when paging
// an archived bucket back in for a query.
func Open(h Header, buf []byte, res compress.Resolution) (*Page, error) {
	c, err := compress.Restore(h.Version, res, h.StartTS, buf, h.BitPos)
	if err != nil {
		return nil, err
	}
	return &Page{Header: h, buf: buf, compressor: c, res: res}, nil
}

// InRange reports ts's position relative to the half-open bucket window
// [bucketStart, bucketEnd): -1 before, 0 inside, +1 at-or-after.
func (p *Page) InRange(ts, bucketStart, bucketEnd int64) int {
	switch {
	case ts < bucketStart:
		return -1
	case ts >= bucketEnd:
		return 1
	default:
		return 0
	}
}

// Append delegates to the compressor. On compress.ErrFull the caller
// (TimeSeries) seals this page and allocates a new one.
func (p *Page) Append(ts int64, v schema.Float) error {
	err := p.compressor.Compress(ts, v)
	if err != nil {
		p.Full = p.compressor.IsFull()
		return err
	}
	return nil
}

func (p *Page) LastTS() (int64, bool) { return p.compressor.LastTS() }
func (p *Page) DPCount() int          { return p.compressor.DPCount() }
func (p *Page) IsFull() bool          { return p.Full || p.compressor.IsFull() }

// Samples decodes the page's full contents, in write order.
func (p *Page) Samples() ([]compress.Sample, error) {
	return p.compressor.Uncompress()
}

// Flush records the compressor's durable position into the page header.
// It is the caller's (Tsdb's) responsibility to persist the returned
// header to the header file and msync the data file region.
func (p *Page) Flush() Header {
	p.BitPos = p.compressor.Checkpoint()
	return p.Header
}

func (p *Page) Seal() { p.Full = true }
