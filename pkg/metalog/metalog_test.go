package metalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.log")
	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.AppendNewTSID(NewTSID{TSID: 1, Metric: "cpu.load", Tags: []Tag{{Key: "host", Value: "web01"}}}))
	require.NoError(t, l.AppendPagePlacement(PagePlacement{TSID: 1, BucketID: 1000, FileID: 0, PageIndex: 0, InOrder: true}))
	require.NoError(t, l.AppendNewTSID(NewTSID{TSID: 2, Metric: "cpu.load", Tags: []Tag{{Key: "host", Value: "web02"}}}))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var got []Record
	require.NoError(t, l2.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 3)
	require.Equal(t, KindNewTSID, got[0].Kind)
	require.Equal(t, "cpu.load", got[0].NewTSID.Metric)
	require.Equal(t, uint32(1), got[0].NewTSID.TSID)
	require.Equal(t, []Tag{{Key: "host", Value: "web01"}}, got[0].NewTSID.Tags)
	require.Equal(t, KindPagePlacement, got[1].Kind)
	require.Equal(t, int64(1000), got[1].PagePlacement.BucketID)
	require.True(t, got[1].PagePlacement.InOrder)
}

func TestReplayTruncatesTrailingPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.log")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.AppendNewTSID(NewTSID{TSID: 1, Metric: "cpu.load"}))
	require.NoError(t, l.Close())

	// Simulate a crash mid-append: append a few garbage bytes that look
	// like the start of a new record header but never complete.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x44, 0x42, 0x53, 0x74, 0x05, 0x00, 0x00}) // partial magic+len
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()

	var got []Record
	require.NoError(t, l2.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)

	// After replay the trailing garbage must be truncated so future
	// appends produce a well-formed log.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, l2.AppendNewTSID(NewTSID{TSID: 2, Metric: "mem.used"}))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info2.Size(), info.Size())
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.log")
	l, err := Open(path)
	require.NoError(t, err)
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, l.AppendNewTSID(NewTSID{TSID: i, Metric: "m"}))
	}
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	defer l2.Close()
	count := 0
	require.NoError(t, l2.Replay(func(Record) error {
		count++
		return nil
	}))
	require.Equal(t, 10, count)
}
