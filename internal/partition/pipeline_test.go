package partition_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/merge"
	"github.com/freeeve/posdb/internal/partition"
)

func openPipelineTestPartition(t *testing.T) *partition.Partition {
	t.Helper()
	p := openTestPartition(t, t.TempDir())
	p.SetMergeFunc(merge.MergeRuns)
	return p
}

func TestPipelineInstallsAtAllocatedIDs(t *testing.T) {
	p := openPipelineTestPartition(t)

	var next uint32
	alloc := func() uint32 {
		id := next
		next++
		return id
	}
	pipe := partition.NewPipeline(p, alloc, partition.PipelineConfig{BufferSize: 2, SortWorkers: 4})

	pipe.Add(
		partition.Entry{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}},
		partition.Entry{Key: testKey(t, 2), Payload: partition.Payload{Count: 1, Offset: 2, OffsetValid: true}},
	)
	pipe.Add(
		partition.Entry{Key: testKey(t, 3), Payload: partition.Payload{Count: 1, Offset: 3, OffsetValid: true}},
	)
	require.NoError(t, pipe.Close())

	require.Equal(t, 2, p.RunCount())
	require.Equal(t, uint64(1), p.QueryRanges(testKey(t, 1)).Count)
	require.Equal(t, uint64(1), p.QueryRanges(testKey(t, 2)).Count)
	require.Equal(t, uint64(1), p.QueryRanges(testKey(t, 3)).Count)
}

func TestPipelineSortsAndCombinesEachBuffer(t *testing.T) {
	p := openPipelineTestPartition(t)

	var next uint32
	pipe := partition.NewPipeline(p, func() uint32 { return atomic.AddUint32(&next, 1) - 1 }, partition.PipelineConfig{BufferSize: 64})

	pipe.Add(
		partition.Entry{Key: testKey(t, 9), Payload: partition.Payload{Count: 1, Offset: 9, OffsetValid: true}},
		partition.Entry{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}},
		partition.Entry{Key: testKey(t, 9), Payload: partition.Payload{Count: 4, Offset: 90, OffsetValid: true}},
	)
	require.NoError(t, pipe.Close())

	require.Equal(t, 1, p.RunCount())
	require.Equal(t, uint64(5), p.QueryRanges(testKey(t, 9)).Count)
}

func TestPipelineCloseIsIdempotent(t *testing.T) {
	p := openPipelineTestPartition(t)

	pipe := partition.NewPipeline(p, func() uint32 { return 0 }, partition.PipelineConfig{BufferSize: 4})
	pipe.Add(partition.Entry{Key: testKey(t, 1), Payload: partition.Payload{Count: 1, Offset: 1, OffsetValid: true}})

	require.NoError(t, pipe.Close())
	require.NoError(t, pipe.Close())
	require.Equal(t, 1, p.RunCount())
}
