package partition_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/merge"
	"github.com/freeeve/posdb/internal/partition"
)

func testKey(t *testing.T, limb0 uint32) entrykey.Key {
	t.Helper()
	hash := entrykey.Hash{limb0, 0, 0, 0}
	return entrykey.NewKey(hash, 0, level.Human, level.WhiteWin)
}

func openTestPartition(t *testing.T, root string) *partition.Partition {
	t.Helper()
	key := partition.Key{Level: level.Human, Result: level.WhiteWin, Bucket: 0, WithMove: true}
	p, err := partition.Open(key, root, partition.FormatPacked, partition.DefaultIndexConfig)
	require.NoError(t, err)
	p.SetMergeFunc(merge.MergeRuns)
	return p
}

func TestStoreOrderedThenQueryRanges(t *testing.T) {
	p := openTestPartition(t, t.TempDir())

	entries := []partition.Entry{
		{Key: testKey(t, 1), Payload: partition.Payload{Count: 3, Offset: 10, OffsetValid: true}},
		{Key: testKey(t, 2), Payload: partition.Payload{Count: 5, Offset: 20, OffsetValid: true}},
	}
	_, err := p.StoreOrdered(entries)
	require.NoError(t, err)
	require.Equal(t, 1, p.RunCount())

	got := p.QueryRanges(testKey(t, 1))
	require.Equal(t, uint64(3), got.Count)
	require.True(t, got.OffsetValid)
	require.Equal(t, uint64(10), got.Offset)

	miss := p.QueryRanges(testKey(t, 99))
	require.Equal(t, uint64(0), miss.Count)
}

func TestQueryRangesSumsAcrossRuns(t *testing.T) {
	p := openTestPartition(t, t.TempDir())

	_, err := p.StoreOrdered([]partition.Entry{
		{Key: testKey(t, 5), Payload: partition.Payload{Count: 2, Offset: 100, OffsetValid: true}},
	})
	require.NoError(t, err)
	_, err = p.StoreOrdered([]partition.Entry{
		{Key: testKey(t, 5), Payload: partition.Payload{Count: 7, Offset: 40, OffsetValid: true}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, p.RunCount())

	got := p.QueryRanges(testKey(t, 5))
	require.Equal(t, uint64(9), got.Count)
	require.Equal(t, uint64(40), got.Offset) // smaller offset wins the tie-break
}

func TestStoreUnorderedSortsAndCombines(t *testing.T) {
	p := openTestPartition(t, t.TempDir())

	_, err := p.StoreUnordered([]partition.Entry{
		{Key: testKey(t, 3), Payload: partition.Payload{Count: 1, Offset: 3, OffsetValid: true}},
		{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}},
		{Key: testKey(t, 3), Payload: partition.Payload{Count: 4, Offset: 30, OffsetValid: true}},
	})
	require.NoError(t, err)

	require.Equal(t, uint64(5), p.QueryRanges(testKey(t, 3)).Count)
	require.Equal(t, uint64(1), p.QueryRanges(testKey(t, 1)).Count)
}

func TestMergeAllCompactsRunsIntoOne(t *testing.T) {
	p := openTestPartition(t, t.TempDir())

	for i := uint32(0); i < 3; i++ {
		_, err := p.StoreOrdered([]partition.Entry{
			{Key: testKey(t, i), Payload: partition.Payload{Count: 1, Offset: uint64(i), OffsetValid: true}},
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.RunCount())

	_, err := p.MergeAll(nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.RunCount())

	for i := uint32(0); i < 3; i++ {
		require.Equal(t, uint64(1), p.QueryRanges(testKey(t, i)).Count)
	}
}

func TestReplicateMergeAllLeavesSourceUntouched(t *testing.T) {
	srcRoot := t.TempDir()
	p := openTestPartition(t, srcRoot)
	_, err := p.StoreOrdered([]partition.Entry{
		{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}},
	})
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "replicated")
	require.NoError(t, p.ReplicateMergeAll(outDir, nil))
	require.Equal(t, 1, p.RunCount()) // source partition's own run list is untouched

	run, err := partition.OpenRun(outDir, 0, partition.FormatPacked)
	require.NoError(t, err)
	require.Equal(t, 1, run.Count())
}

func TestOpenDiscoversExistingRuns(t *testing.T) {
	root := t.TempDir()
	p := openTestPartition(t, root)
	_, err := p.StoreOrdered([]partition.Entry{
		{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}},
	})
	require.NoError(t, err)

	reopened := openTestPartition(t, root)
	require.Equal(t, 1, reopened.RunCount())
	require.Equal(t, uint64(1), reopened.QueryRanges(testKey(t, 1)).Count)
}
