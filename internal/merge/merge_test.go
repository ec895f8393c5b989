package merge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/merge"
	"github.com/freeeve/posdb/internal/partition"
)

func key(t *testing.T, limb0 uint32) entrykey.Key {
	t.Helper()
	hash := entrykey.Hash{limb0, 0, 0, 0}
	return entrykey.NewKey(hash, 0, level.Human, level.WhiteWin)
}

func entry(t *testing.T, limb0 uint32, count uint64) partition.Entry {
	t.Helper()
	return partition.Entry{
		Key:     key(t, limb0),
		Payload: partition.Payload{Count: count, Offset: uint64(limb0), OffsetValid: true},
	}
}

func TestKWayMergeIteratorCombinesEqualKeys(t *testing.T) {
	runA := []partition.Entry{entry(t, 1, 1), entry(t, 3, 1)}
	runB := []partition.Entry{entry(t, 2, 1), entry(t, 3, 5)}

	iters := []partition.RecordIterator{
		partition.NewSliceIterator(runA),
		partition.NewSliceIterator(runB),
	}
	m := merge.NewKWayMergeIterator(iters, partition.CompareWithMove)
	out := merge.Drain(m)

	require.Len(t, out, 3)
	require.Equal(t, key(t, 1), out[0].Key)
	require.Equal(t, key(t, 2), out[1].Key)
	require.Equal(t, key(t, 3), out[2].Key)
	require.Equal(t, uint64(6), out[2].Payload.Count)
}

func TestKWayMergeIteratorTieBreaksOffsetToSmaller(t *testing.T) {
	runA := []partition.Entry{{Key: key(t, 1), Payload: partition.Payload{Count: 1, Offset: 50, OffsetValid: true}}}
	runB := []partition.Entry{{Key: key(t, 1), Payload: partition.Payload{Count: 1, Offset: 5, OffsetValid: true}}}

	iters := []partition.RecordIterator{
		partition.NewSliceIterator(runA),
		partition.NewSliceIterator(runB),
	}
	out := merge.Drain(merge.NewKWayMergeIterator(iters, partition.CompareWithMove))

	require.Len(t, out, 1)
	require.Equal(t, uint64(2), out[0].Payload.Count)
	require.Equal(t, uint64(5), out[0].Payload.Offset)
}

func TestMergeRunsReportsProgressAndTotal(t *testing.T) {
	entries := make([]partition.Entry, 5000)
	for i := range entries {
		entries[i] = entry(t, uint32(i), 1)
	}
	run := &fakeRun{entries: entries}

	var lastWritten, lastTotal int
	calls := 0
	out := merge.MergeRuns([]*partition.Run{run.asRun(t)}, partition.CompareWithMove, func(written, total int) {
		calls++
		lastWritten, lastTotal = written, total
	})

	require.Len(t, out, 5000)
	require.Greater(t, calls, 1)
	require.Equal(t, 5000, lastWritten)
	require.Equal(t, 5000, lastTotal)
}

// fakeRun builds a real on-disk partition.Run via WriteRun so MergeRuns
// (which takes *partition.Run, not the RecordIterator interface) can be
// exercised without needing merge to depend on an unexported constructor.
type fakeRun struct {
	entries []partition.Entry
}

func (f *fakeRun) asRun(t *testing.T) *partition.Run {
	t.Helper()
	dir := t.TempDir()
	run, _, err := partition.WriteRun(dir, 1, f.entries, partition.FormatPacked, partition.CompareWithMove, partition.DefaultIndexConfig)
	require.NoError(t, err)
	return run
}
