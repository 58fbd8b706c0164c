// Package recyclepool implements the RecyclePool of §4.8: a capped,
// typed free-list allocator for hot-path short-lived objects (page
// buffers, query tasks, bitstream cursors). Grounded on the teacher's
// PersistentBufferPool (pkg/metricstore/buffer.go): a mutex-protected
// slice used as a free list, deliberately not sync.Pool, because the
// pool needs a hard cap and high-water-mark accounting that sync.Pool
// does not offer.
package recyclepool

import (
	"errors"
	"sync"
)

// ErrOutOfMemory is returned once a pool has both exhausted its free
// list and hit its soft cap on live allocations (§4.8/§7).
var ErrOutOfMemory = errors.New("recyclepool: out of memory")

// Pool is a free list for values of type T, bounded by a soft cap on
// the number of outstanding (checked-out + pooled) instances.
type Pool[T any] struct {
	mu       sync.Mutex
	free     []T
	new      func() T
	reset    func(T)
	softCap  int
	outCount int

	// window holds the recent outstanding-count samples for the GC
	// sliding window (§4.8: "records high-water marks over a sliding
	// window of N samples").
	window    []int
	windowCap int
}

// New creates a Pool. new allocates a fresh T when the free list is
// empty; reset clears a T's contents before it is returned to a
// caller. softCap bounds outCount; windowSamples is N in the
// sliding-window high-water-mark GC.
func New[T any](newFn func() T, resetFn func(T), softCap, windowSamples int) *Pool[T] {
	if windowSamples < 1 {
		windowSamples = 1
	}
	return &Pool[T]{new: newFn, reset: resetFn, softCap: softCap, windowCap: windowSamples}
}

// Acquire returns a pooled T, allocating a new one if the free list is
// empty and outCount is still under softCap. Returns ErrOutOfMemory
// once both are exhausted.
func (p *Pool[T]) Acquire() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.outCount++
		return v, nil
	}

	if p.softCap > 0 && p.outCount >= p.softCap {
		var zero T
		return zero, ErrOutOfMemory
	}

	p.outCount++
	return p.new(), nil
}

// Release returns v to the free list after resetting it.
func (p *Pool[T]) Release(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCount > 0 {
		p.outCount--
	}
	p.free = append(p.free, v)
}

// OutCount reports the number of currently checked-out instances.
func (p *Pool[T]) OutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outCount
}

// Capacity reports the pool's soft cap, for health/pressure reporting.
func (p *Pool[T]) Capacity() int {
	return p.softCap
}

// Sample records the current outstanding count into the sliding
// window. Call this once per GC tick, before GC.
func (p *Pool[T]) Sample() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = append(p.window, p.outCount)
	if len(p.window) > p.windowCap {
		p.window = p.window[len(p.window)-p.windowCap:]
	}
}

// GC frees free-list entries in excess of the observed high-water mark
// over the sliding window, per §4.8's background GC task.
func (p *Pool[T]) GC() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.window) == 0 {
		return
	}
	max := p.window[0]
	for _, v := range p.window[1:] {
		if v > max {
			max = v
		}
	}
	keepFree := max - p.outCount
	if keepFree < 0 {
		keepFree = 0
	}
	if keepFree < len(p.free) {
		for i := keepFree; i < len(p.free); i++ {
			var zero T
			p.free[i] = zero
		}
		p.free = p.free[:keepFree]
	}
}

// Clear drops every pooled entry, letting the GC collect them.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = nil
	p.window = nil
}
