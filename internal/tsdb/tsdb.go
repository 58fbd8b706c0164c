// Package tsdb implements the Tsdb / time bucket of §4.7: a directory
// holding data.<k>/header.<k> files plus a manifest, and the four-state
// lifecycle machine (active/read_only/archived/compacted) with the
// orthogonal degraded modifier. File discovery (data.<k>/header.<k>
// enumeration by trailing integer) is grounded on the teacher's
// checkpoint.go findFiles/parseTimestampFromFilename pattern; the
// archive-vs-delete branch that informs the archived/compacted split is
// grounded on archive.go's cleanUpWorker.
package tsdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nova-ts/tsdb/internal/compactor"
	"github.com/nova-ts/tsdb/internal/page"
	"github.com/nova-ts/tsdb/internal/timeseries"
	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/metalog"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// State is a Tsdb's position in the §4.7 lifecycle machine.
type State int

const (
	StateActive State = iota
	StateReadOnly
	StateArchived
	StateCompacted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateReadOnly:
		return "read_only"
	case StateArchived:
		return "archived"
	case StateCompacted:
		return "compacted"
	default:
		return "unknown"
	}
}

const manifestMagic = uint32(0x74534442)

// Manifest is the small per-bucket descriptor named in §4.7.
type Manifest struct {
	BucketStart       int64
	BucketEnd         int64
	PageSize          int
	CompressorVersion compress.Version
	Resolution        compress.Resolution
	PageCount         int
}

func writeManifest(path string, m Manifest) error {
	buf := make([]byte, 0, 4+8+8+4+1+1+4)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], manifestMagic)
	buf = append(buf, tmp4[:]...)

	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(m.BucketStart))
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], uint64(m.BucketEnd))
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], uint32(m.PageSize))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, byte(m.CompressorVersion))
	buf = append(buf, byte(m.Resolution))
	binary.LittleEndian.PutUint32(tmp4[:], uint32(m.PageCount))
	buf = append(buf, tmp4[:]...)

	return os.WriteFile(path, buf, 0o644)
}

func readManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	if len(raw) < 4+8+8+4+1+1+4 {
		return Manifest{}, fmt.Errorf("tsdb: manifest too short")
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != manifestMagic {
		return Manifest{}, fmt.Errorf("tsdb: bad manifest magic")
	}
	m := Manifest{
		BucketStart:       int64(binary.LittleEndian.Uint64(raw[4:12])),
		BucketEnd:         int64(binary.LittleEndian.Uint64(raw[12:20])),
		PageSize:          int(binary.LittleEndian.Uint32(raw[20:24])),
		CompressorVersion: compress.Version(raw[24]),
		Resolution:        compress.Resolution(raw[25]),
		PageCount:         int(binary.LittleEndian.Uint32(raw[26:30])),
	}
	return m, nil
}

// dataFile is one mmap'd data.<k> file, sliced into fixed pageSize
// regions.
type dataFile struct {
	id       int
	f        *os.File
	mmap     []byte
	pageSize int
	used     int // pages already handed out from this file
}

func (df *dataFile) capacityPages() int { return len(df.mmap) / df.pageSize }

func (df *dataFile) pageBuf(index int) []byte {
	off := index * df.pageSize
	return df.mmap[off : off+df.pageSize]
}

func mmapFile(f *os.File, size int) ([]byte, error) {
	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("tsdb: truncate: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("tsdb: mmap: %w", err)
	}
	return data, nil
}

// Tsdb owns one time bucket's directory and in-memory series state.
type Tsdb struct {
	mu sync.RWMutex

	dir      string
	manifest Manifest
	state    State
	degraded bool

	dataFiles []*dataFile
	headers   map[int][]page.Header // fileID -> header records, index == page index

	series map[uint32]*timeseries.TimeSeries

	lastWriteUnix int64

	readOnlyThreshold time.Duration
	archiveThreshold  time.Duration

	metaLog *metalog.Log
}

// Options configures Create/Open.
type Options struct {
	PageSize          int
	CompressorVersion compress.Version
	Resolution        compress.Resolution
	ReadOnlyThreshold time.Duration
	ArchiveThreshold  time.Duration
	MetaLog           *metalog.Log
}

// Create initializes a new bucket directory for [bucketStart, bucketEnd).
func Create(dir string, bucketStart, bucketEnd int64, opt Options) (*Tsdb, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tsdb: mkdir %s: %w", dir, err)
	}
	m := Manifest{
		BucketStart:       bucketStart,
		BucketEnd:         bucketEnd,
		PageSize:          opt.PageSize,
		CompressorVersion: opt.CompressorVersion,
		Resolution:        opt.Resolution,
	}
	if err := writeManifest(filepath.Join(dir, "manifest"), m); err != nil {
		return nil, err
	}
	return &Tsdb{
		dir:               dir,
		manifest:          m,
		state:             StateActive,
		headers:           make(map[int][]page.Header),
		series:            make(map[uint32]*timeseries.TimeSeries),
		lastWriteUnix:     time.Now().Unix(),
		readOnlyThreshold: opt.ReadOnlyThreshold,
		archiveThreshold:  opt.ArchiveThreshold,
		metaLog:           opt.MetaLog,
	}, nil
}

// parseTrailingInt parses the <k> of a "<prefix>.<k>" file name such as
// "data.<k>" or "header.<k>".
func parseTrailingInt(prefix, name string) (int, bool) {
	if !strings.HasPrefix(name, prefix+".") {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix)+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Open reopens an existing bucket directory, mmapping every data.<k>
// file and replaying its header.<k> records (§4.7 cold-open path).
func Open(dir string, opt Options) (*Tsdb, error) {
	m, err := readManifest(filepath.Join(dir, "manifest"))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tsdb: readdir %s: %w", dir, err)
	}

	fileIDs := make([]int, 0)
	for _, e := range entries {
		if id, ok := parseTrailingInt("data", e.Name()); ok {
			fileIDs = append(fileIDs, id)
		}
	}
	sort.Ints(fileIDs)

	t := &Tsdb{
		dir:               dir,
		manifest:          m,
		state:             StateActive,
		headers:           make(map[int][]page.Header),
		series:            make(map[uint32]*timeseries.TimeSeries),
		lastWriteUnix:     time.Now().Unix(),
		readOnlyThreshold: opt.ReadOnlyThreshold,
		archiveThreshold:  opt.ArchiveThreshold,
		metaLog:           opt.MetaLog,
	}

	for _, id := range fileIDs {
		f, err := os.OpenFile(filepath.Join(dir, fmt.Sprintf("data.%d", id)), os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("tsdb: open data.%d: %w", id, err)
		}
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		mm, err := mmapFile(f, int(info.Size()))
		if err != nil {
			return nil, err
		}
		t.dataFiles = append(t.dataFiles, &dataFile{id: id, f: f, mmap: mm, pageSize: m.PageSize, used: int(info.Size()) / m.PageSize})

		headers, err := readHeaderFile(filepath.Join(dir, fmt.Sprintf("header.%d", id)))
		if err != nil {
			return nil, fmt.Errorf("tsdb: read header.%d: %w", id, err)
		}
		t.headers[id] = headers
	}
	return t, nil
}

// Close munmaps and closes every data file, flushing nothing further
// (callers must have already Flush()ed open pages).
func (t *Tsdb) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, df := range t.dataFiles {
		if err := unix.Msync(df.mmap, unix.MS_SYNC); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := unix.Munmap(df.mmap); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := df.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Tsdb) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Tsdb) Degraded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.degraded
}

func (t *Tsdb) SetDegraded(d bool) {
	t.mu.Lock()
	t.degraded = d
	t.mu.Unlock()
}

var ErrReadOnly = errors.New("tsdb: bucket is read_only, archived, or compacted")

// Append routes a sample to the named TSID's TimeSeries, allocating one
// if this is the first write for that TSID in this bucket.
func (t *Tsdb) Append(tsid uint32, ts int64, v schema.Float) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return ErrReadOnly
	}
	ser, ok := t.series[tsid]
	if !ok {
		ser = timeseries.New(tsid, t.allocatorFor(tsid))
		t.series[tsid] = ser
	}
	t.lastWriteUnix = time.Now().Unix()
	t.mu.Unlock()

	return ser.Append(ts, v)
}

// Query merges samples for tsid in [from, to) across this bucket.
func (t *Tsdb) Query(tsid uint32, from, to int64) ([]compress.Sample, error) {
	t.mu.RLock()
	ser, ok := t.series[tsid]
	t.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return ser.Query(from, to)
}

// allocatorFor returns a timeseries.PageAllocator closed over tsid that
// finds room in an existing data file or appends a new one, and logs a
// PAGE_PLACEMENT record to the MetaLog.
func (t *Tsdb) allocatorFor(tsid uint32) timeseries.PageAllocator {
	return func(startTS int64, isOOO bool) (*page.Page, error) {
		t.mu.Lock()
		defer t.mu.Unlock()

		df, pageIndex, err := t.findOrCreateSlot()
		if err != nil {
			return nil, err
		}
		buf := df.pageBuf(pageIndex)
		version := t.manifest.CompressorVersion
		if isOOO {
			version = compress.V0 // out-of-order pages always use the sorted v0 codec
		}
		p := page.New(tsid, df.id, pageIndex, startTS, isOOO, version, t.manifest.Resolution, buf)

		if t.metaLog != nil {
			if err := t.metaLog.AppendPagePlacement(metalog.PagePlacement{
				TSID: tsid, BucketID: t.manifest.BucketStart, FileID: df.id, PageIndex: pageIndex, InOrder: !isOOO,
			}); err != nil {
				cclog.Warnf("tsdb: metalog append placement: %v", err)
			}
		}
		return p, nil
	}
}

const pagesPerDataFile = 256

// findOrCreateSlot returns the next free page slot, growing the data
// file set if every existing file is full. Caller holds t.mu.
func (t *Tsdb) findOrCreateSlot() (*dataFile, int, error) {
	for _, df := range t.dataFiles {
		if df.used < df.capacityPages() {
			idx := df.used
			df.used++
			t.manifest.PageCount++
			return df, idx, nil
		}
	}

	id := len(t.dataFiles)
	path := filepath.Join(t.dir, fmt.Sprintf("data.%d", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("tsdb: create data.%d: %w", id, err)
	}
	size := t.manifest.PageSize * pagesPerDataFile
	mm, err := mmapFile(f, size)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	df := &dataFile{id: id, f: f, mmap: mm, pageSize: t.manifest.PageSize}
	df.used = 1
	t.dataFiles = append(t.dataFiles, df)
	t.manifest.PageCount++
	return df, 0, nil
}

// Flush persists every open page's header into its header.<k> file and
// msyncs the backing data file. Called periodically by the lifecycle
// scheduler and before any state transition.
func (t *Tsdb) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byFile := make(map[int][]page.Header)
	for _, ser := range t.series {
		for _, p := range ser.Pages() {
			h := p.Flush()
			byFile[h.FileID] = append(byFile[h.FileID], h)
		}
	}
	for fileID, hdrs := range byFile {
		if err := writeHeaderFile(filepath.Join(t.dir, fmt.Sprintf("header.%d", fileID)), hdrs); err != nil {
			return err
		}
		t.headers[fileID] = hdrs
	}
	for _, df := range t.dataFiles {
		if err := unix.Msync(df.mmap, unix.MS_ASYNC); err != nil {
			return fmt.Errorf("tsdb: msync data.%d: %w", df.id, err)
		}
	}
	return writeManifest(filepath.Join(t.dir, "manifest"), t.manifest)
}

// MaybeTransition advances the lifecycle state machine based on elapsed
// idle time (§4.7). Called periodically by the lifecycle scheduler.
func (t *Tsdb) MaybeTransition(now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	idle := now.Sub(time.Unix(t.lastWriteUnix, 0))
	switch t.state {
	case StateActive:
		if t.readOnlyThreshold > 0 && idle > t.readOnlyThreshold {
			t.state = StateReadOnly
		}
	case StateReadOnly:
		if t.archiveThreshold > 0 && idle > t.archiveThreshold {
			t.state = StateArchived
		}
	}
	return t.state
}

// MarkCompacted transitions archived -> compacted after the compactor
// has rewritten this bucket's files (§4.7/§4.11).
func (t *Tsdb) MarkCompacted() {
	t.mu.Lock()
	t.state = StateCompacted
	t.mu.Unlock()
}

// writeHeaderFile lays out one fixed-size record per page index so a
// cold reader can seek directly to a given page's header by index
// (record i == page index i), matching data.<k>'s fixed-size page
// layout.
func writeHeaderFile(path string, hdrs []page.Header) error {
	maxIdx := -1
	for _, h := range hdrs {
		if h.PageIndex > maxIdx {
			maxIdx = h.PageIndex
		}
	}
	buf := make([]byte, (maxIdx+1)*headerRecordSize)
	for _, h := range hdrs {
		off := h.PageIndex * headerRecordSize
		copy(buf[off:off+headerRecordSize], encodeHeader(h))
	}
	return os.WriteFile(path, buf, 0o644)
}

const headerRecordSize = 8 + 1 + 8 + 1 + 1 + 4 + 4 + 4

func encodeHeader(h page.Header) []byte {
	buf := make([]byte, headerRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.BitPos))
	buf[8] = byte(h.Version)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(h.StartTS))
	if h.IsOOO {
		buf[17] = 1
	}
	if h.Full {
		buf[18] = 1
	}
	binary.LittleEndian.PutUint32(buf[19:23], h.TSID)
	binary.LittleEndian.PutUint32(buf[23:27], uint32(h.FileID))
	binary.LittleEndian.PutUint32(buf[27:31], uint32(h.PageIndex))
	return buf
}

func decodeHeader(buf []byte) page.Header {
	return page.Header{
		BitPos:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		Version:   compress.Version(buf[8]),
		StartTS:   int64(binary.LittleEndian.Uint64(buf[9:17])),
		IsOOO:     buf[17] != 0,
		Full:      buf[18] != 0,
		TSID:      binary.LittleEndian.Uint32(buf[19:23]),
		FileID:    int(binary.LittleEndian.Uint32(buf[23:27])),
		PageIndex: int(binary.LittleEndian.Uint32(buf[27:31])),
	}
}

func readHeaderFile(path string) ([]page.Header, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := len(raw) / headerRecordSize
	out := make([]page.Header, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, decodeHeader(raw[i*headerRecordSize:(i+1)*headerRecordSize]))
	}
	return out, nil
}

// Manifest exposes the bucket's manifest for registry/lookup use.
func (t *Tsdb) Manifest() Manifest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.manifest
}

// IsArchived reports whether this bucket is eligible for compaction
// (§4.13 step d only ever runs over archived buckets).
func (t *Tsdb) IsArchived() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == StateArchived
}

// TSIDs lists every series with at least one write in this bucket.
func (t *Tsdb) TSIDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint32, 0, len(t.series))
	for tsid := range t.series {
		out = append(out, tsid)
	}
	return out
}

// bucketSource adapts a *Tsdb to compactor.Source.
type bucketSource struct{ t *Tsdb }

func (b bucketSource) TSIDs() []uint32 { return b.t.TSIDs() }

func (b bucketSource) Samples(tsid uint32) ([]compress.Sample, error) {
	return b.t.Query(tsid, b.t.manifest.BucketStart, b.t.manifest.BucketEnd+1)
}

func (b bucketSource) Manifest() (int, compress.Version, compress.Resolution) {
	m := b.t.Manifest()
	return m.PageSize, m.CompressorVersion, m.Resolution
}

func (b bucketSource) Dir() string { return b.t.dir }

// CompactSource exposes this bucket as a compactor.Source.
func (t *Tsdb) CompactSource() compactor.Source {
	return bucketSource{t: t}
}
