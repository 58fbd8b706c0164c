// Package timeseries implements the TimeSeries of §4.6: per-TSID
// in-memory state inside one time bucket, owning an in-order page and
// an out-of-order page and routing appends between them. The dual-page
// shape generalizes the teacher's single doubly-linked buffer chain
// (pkg/metricstore/buffer.go) into two independent chains so
// out-of-order writes never force a scan/shift of the in-order chain.
package timeseries

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/nova-ts/tsdb/internal/page"
	"github.com/nova-ts/tsdb/pkg/compress"
	"github.com/nova-ts/tsdb/pkg/schema"
)

// ErrPageTooSmall is returned when a single sample cannot fit even in a
// freshly allocated, empty page (§4.6 step 2/3: "must succeed on an
// empty page or the sample is rejected as PageTooSmall").
var ErrPageTooSmall = errors.New("timeseries: sample does not fit an empty page")

// PageAllocator creates a new, empty page anchored at startTS, backed
// by fresh storage (a new data-file page slot). TimeSeries calls this
// whenever the current in-order or out-of-order page fills up; the
// concrete allocation (mmap slice selection, header bookkeeping) is the
// owning Tsdb's responsibility.
type PageAllocator func(startTS int64, isOOO bool) (*page.Page, error)

// TimeSeries holds one TSID's per-bucket write/read state.
type TimeSeries struct {
	TSID uint32

	writeMu sync.Mutex
	inOrder *page.Page
	ooo     *page.Page

	alloc PageAllocator

	// pages accumulates every page (in-order and out-of-order) this
	// series has ever owned in this bucket, oldest first, so Query can
	// merge across page boundaries. The currently open in-order/ooo
	// pages are included too (read with DPCount()/Samples() directly,
	// not frozen at seal time).
	mu     sync.RWMutex
	pages  []*page.Page
	oooSet map[*page.Page]bool
}

func New(tsid uint32, alloc PageAllocator) *TimeSeries {
	return &TimeSeries{TSID: tsid, alloc: alloc, oooSet: make(map[*page.Page]bool)}
}

// Append implements §4.6's append(ts, v) routing.
func (t *TimeSeries) Append(ts int64, v schema.Float) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.inOrder == nil {
		p, err := t.allocate(ts, false)
		if err != nil {
			return err
		}
		t.inOrder = p
	}

	last, hasLast := t.inOrder.LastTS()
	if !hasLast || ts > last {
		return t.appendTo(&t.inOrder, ts, v, false)
	}
	return t.appendToOOO(ts, v)
}

func (t *TimeSeries) appendToOOO(ts int64, v schema.Float) error {
	if t.ooo == nil {
		p, err := t.allocate(ts, true)
		if err != nil {
			return err
		}
		t.ooo = p
	}
	return t.appendTo(&t.ooo, ts, v, true)
}

// appendTo tries target.Append, sealing and reallocating on Full, per
// §4.6 step 2: "On Full, seal page, allocate a new ... page anchored at
// ts, retry".
func (t *TimeSeries) appendTo(target **page.Page, ts int64, v schema.Float, isOOO bool) error {
	err := (*target).Append(ts, v)
	if err == nil {
		return nil
	}
	if !errors.Is(err, compress.ErrFull) {
		return err
	}

	(*target).Seal()
	fresh, allocErr := t.allocate(ts, isOOO)
	if allocErr != nil {
		return allocErr
	}
	*target = fresh
	if retryErr := fresh.Append(ts, v); retryErr != nil {
		return ErrPageTooSmall
	}
	return nil
}

func (t *TimeSeries) allocate(startTS int64, isOOO bool) (*page.Page, error) {
	p, err := t.alloc(startTS, isOOO)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.pages = append(t.pages, p)
	if isOOO {
		t.oooSet[p] = true
	}
	t.mu.Unlock()
	return p, nil
}

// mergeItem is one candidate sample in the priority-queue merge.
type mergeItem struct {
	ts        int64
	v         schema.Float
	isOOO     bool
	pageIndex int // position of this item's page in t.pages, for tie-breaking
	samples   []compress.Sample
	pos       int
}

// mergeHeap implements heap.Interface with §4.6's tie-break ordering:
// "in-order before out-of-order when timestamps tie, earlier page
// before later page otherwise".
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	if a.isOOO != b.isOOO {
		return !a.isOOO // in-order (false) sorts first
	}
	return a.pageIndex < b.pageIndex
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Query assembles a merged, duplicate-resolved, timestamp-sorted stream
// over [from, to) by reading every page (in-order and out-of-order)
// this series owns through a priority queue (§4.6 query()).
func (t *TimeSeries) Query(from, to int64) ([]compress.Sample, error) {
	t.mu.RLock()
	pages := make([]*page.Page, len(t.pages))
	copy(pages, t.pages)
	oooSet := make(map[*page.Page]bool, len(t.oooSet))
	for p := range t.oooSet {
		oooSet[p] = true
	}
	t.mu.RUnlock()

	h := &mergeHeap{}
	heap.Init(h)
	for idx, p := range pages {
		samples, err := p.Samples()
		if err != nil {
			return nil, err
		}
		start := firstIndexAtOrAfter(samples, from)
		if start >= len(samples) || (len(samples) > 0 && samples[start].TS >= to) {
			continue
		}
		it := &mergeItem{isOOO: oooSet[p], pageIndex: idx, samples: samples, pos: start}
		it.ts, it.v = samples[start].TS, samples[start].Value
		heap.Push(h, it)
	}

	out := make([]compress.Sample, 0, 64)
	var lastTS int64
	haveLast := false
	for h.Len() > 0 {
		it := heap.Pop(h).(*mergeItem)
		if it.ts < to {
			if !haveLast || it.ts != lastTS {
				out = append(out, compress.Sample{TS: it.ts, Value: it.v})
			} else {
				// Duplicate timestamp: last value seen in merge order wins.
				out[len(out)-1].Value = it.v
			}
			lastTS = it.ts
			haveLast = true
		}
		it.pos++
		if it.pos < len(it.samples) && it.samples[it.pos].TS < to {
			it.ts, it.v = it.samples[it.pos].TS, it.samples[it.pos].Value
			heap.Push(h, it)
		}
	}
	return out, nil
}

func firstIndexAtOrAfter(samples []compress.Sample, ts int64) int {
	lo, hi := 0, len(samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if samples[mid].TS < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// DPCount sums the decoded-sample count across every page this series
// owns (diagnostic / metrics use, not on the write hot path).
func (t *TimeSeries) DPCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, p := range t.pages {
		n += p.DPCount()
	}
	return n
}

// Pages returns every page this series has ever owned in this bucket,
// oldest first, for the owning Tsdb to flush headers for.
func (t *TimeSeries) Pages() []*page.Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*page.Page, len(t.pages))
	copy(out, t.pages)
	return out
}
