package raftlog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/cohort/raftlog"
)

func TestLog_AppendAssignsIndexes(t *testing.T) {
	l := raftlog.New()

	require.Equal(t, uint64(0), l.LastIndex())

	last := l.Append(1, []byte("a"), []byte("b"))
	require.Equal(t, uint64(2), last)
	require.Equal(t, uint64(2), l.LastIndex())
	require.Equal(t, uint64(1), l.LastTerm())

	entry, err := l.Entry(1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), entry.Command)
	require.Equal(t, uint64(1), entry.Term)
}

func TestLog_EntryOutOfRange(t *testing.T) {
	l := raftlog.New()
	l.Append(1, []byte("a"))

	_, err := l.Entry(2)
	require.ErrorIs(t, err, raftlog.ErrOutOfRange)
}

func TestLog_SliceReturnsTail(t *testing.T) {
	l := raftlog.New()
	l.Append(1, []byte("a"), []byte("b"), []byte("c"))

	entries, err := l.Slice(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[0].Index)
	require.Equal(t, uint64(3), entries[1].Index)

	entries, err = l.Slice(4)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLog_Truncate(t *testing.T) {
	l := raftlog.New()
	l.Append(1, []byte("a"), []byte("b"))
	l.Append(2, []byte("c"))

	require.NoError(t, l.Truncate(2))
	require.Equal(t, uint64(1), l.LastIndex())
	require.Equal(t, uint64(1), l.LastTerm())

	// Appending after a truncation continues from the new tail.
	last := l.Append(3, []byte("d"))
	require.Equal(t, uint64(2), last)

	entry, err := l.Entry(2)
	require.NoError(t, err)
	require.Equal(t, []byte("d"), entry.Command)
	require.Equal(t, uint64(3), entry.Term)
}

func TestLog_TruncateAll(t *testing.T) {
	l := raftlog.New()
	l.Append(1, []byte("a"))

	require.NoError(t, l.Truncate(1))
	require.Equal(t, uint64(0), l.LastIndex())
	require.Equal(t, uint64(0), l.LastTerm())
}

func TestLog_CompactDropsWholeSegments(t *testing.T) {
	l := raftlog.NewSegmented(2)

	for i := 0; i < 6; i++ {
		l.Append(1, []byte{byte(i)})
	}

	l.Compact(5)

	require.Equal(t, uint64(5), l.FirstIndex())
	require.Equal(t, uint64(6), l.LastIndex())

	_, err := l.Entry(4)
	require.ErrorIs(t, err, raftlog.ErrCompacted)

	entry, err := l.Entry(5)
	require.NoError(t, err)
	require.Equal(t, []byte{4}, entry.Command)
}

func TestLog_CrossSegmentReads(t *testing.T) {
	l := raftlog.NewSegmented(2)

	for i := 0; i < 5; i++ {
		l.Append(1, []byte{byte(i)})
	}

	entries, err := l.Slice(1)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for i, entry := range entries {
		require.Equal(t, uint64(i+1), entry.Index)
		require.Equal(t, []byte{byte(i)}, entry.Command)
	}
}
