package recyclepool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseReusesEntries(t *testing.T) {
	allocs := 0
	p := New(func() []byte { allocs++; return make([]byte, 16) }, func([]byte) {}, 0, 4)

	b1, err := p.Acquire()
	require.NoError(t, err)
	p.Release(b1)

	b2, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 1, allocs, "second acquire must reuse the released buffer")
	_ = b2
}

func TestSoftCapReturnsOutOfMemory(t *testing.T) {
	p := New(func() int { return 0 }, func(int) {}, 2, 4)

	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestReleaseFreesCapacityForFutureAcquire(t *testing.T) {
	p := New(func() int { return 1 }, func(int) {}, 1, 4)
	v, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrOutOfMemory)

	p.Release(v)
	_, err = p.Acquire()
	require.NoError(t, err)
}

func TestGCTrimsBelowHighWaterMark(t *testing.T) {
	p := New(func() int { return 0 }, func(int) {}, 0, 2)
	vals := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		v, err := p.Acquire()
		require.NoError(t, err)
		vals = append(vals, v)
	}
	p.Sample() // window sees outstanding=5

	for _, v := range vals {
		p.Release(v)
	}
	p.Sample() // window sees outstanding=0, free=5; window keeps last 2 samples: [5,0]

	p.GC()
	require.LessOrEqual(t, len(p.free), 5)
}
