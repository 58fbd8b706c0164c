package bitstream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendRetrieveRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rnd.Intn(64)
		start := rnd.Intn(8)
		srcLen := (start+n)/8 + 2
		src := make([]byte, srcLen)
		rnd.Read(src)

		buf := make([]byte, 32)
		s := New(buf)
		require.NoError(t, s.Append(src, n, start))

		c := s.NewCursor()
		out := make([]byte, srcLen)
		require.NoError(t, s.Retrieve(c, out, n, start))

		for i := 0; i < n; i++ {
			require.Equal(t, bitAt(src, int64(start+i)), bitAt(out, int64(start+i)), "bit %d mismatch", i)
		}
	}
}

func TestWriteReadUint(t *testing.T) {
	buf := make([]byte, 16)
	s := New(buf)
	require.NoError(t, s.WriteUint(0x1A, 8))
	require.NoError(t, s.WriteUint(0x3, 2))
	require.NoError(t, s.WriteUint(0xFFFFFFFF, 32))

	c := s.NewCursor()
	v, err := s.ReadUint(c, 8)
	require.NoError(t, err)
	require.EqualValues(t, 0x1A, v)

	v, err = s.ReadUint(c, 2)
	require.NoError(t, err)
	require.EqualValues(t, 0x3, v)

	v, err = s.ReadUint(c, 32)
	require.NoError(t, err)
	require.EqualValues(t, 0xFFFFFFFF, v)
}

func TestOutOfSpaceLeavesCursorUnchanged(t *testing.T) {
	buf := make([]byte, 1)
	s := New(buf)
	require.NoError(t, s.WriteUint(0x1, 4))
	before := s.SizeInBits()
	err := s.WriteUint(0xFFFFFFFF, 32)
	require.ErrorIs(t, err, ErrOutOfSpace)
	require.Equal(t, before, s.SizeInBits())
}

func TestEndOfStream(t *testing.T) {
	buf := make([]byte, 4)
	s := New(buf)
	require.NoError(t, s.WriteUint(0x5, 4))
	c := s.NewCursor()
	_, err := s.ReadUint(c, 5)
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestSaveRestoreCheckpoint(t *testing.T) {
	buf := make([]byte, 4)
	s := New(buf)
	require.NoError(t, s.WriteUint(0x3, 4))
	s.SaveCheckpoint()
	require.NoError(t, s.WriteUint(0x7, 4))
	s.RestoreCheckpoint()
	require.EqualValues(t, 4, s.SizeInBits())
}
