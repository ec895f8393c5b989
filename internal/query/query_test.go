package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/partition"
	"github.com/freeeve/posdb/internal/query"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// buildStore wires a minimal two-partition store (continuation +
// transposition, for one (level, result) bucket) holding exactly the
// entries for "1. e4 e5": the position after 1.e4 and the position after
// 1.e4 e5, each with count 1.
func buildStore(t *testing.T) (withMove, withoutMove *partition.Partition) {
	t.Helper()
	start := chess.StartingPosition()
	mvE4, err := chess.ParseSAN(start, "e4")
	require.NoError(t, err)
	afterE4 := chess.Clone(start)
	require.NoError(t, chess.Apply(afterE4, mvE4))

	mvE5, err := chess.ParseSAN(afterE4, "e5")
	require.NoError(t, err)
	afterE4E5 := chess.Clone(afterE4)
	require.NoError(t, chess.Apply(afterE4E5, mvE5))

	hashE4 := entrykey.HashPosition(afterE4)
	hashE4E5 := entrykey.HashPosition(afterE4E5)
	packedE4 := chess.PackMove(mvE4)
	packedE5 := chess.PackMove(mvE5)

	entries := []partition.Entry{
		{Key: entrykey.NewKey(hashE4, packedE4, level.Human, level.WhiteWin), Payload: partition.Payload{Count: 1, Offset: 0, OffsetValid: true}},
		{Key: entrykey.NewKey(hashE4E5, packedE5, level.Human, level.WhiteWin), Payload: partition.Payload{Count: 1, Offset: 0, OffsetValid: true}},
	}

	root := t.TempDir()
	withMove, err = partition.Open(partition.Key{Level: level.Human, Result: level.WhiteWin, Bucket: 0, WithMove: true}, root, partition.FormatPacked, partition.DefaultIndexConfig)
	require.NoError(t, err)
	withoutMove, err = partition.Open(partition.Key{Level: level.Human, Result: level.WhiteWin, Bucket: 0, WithMove: false}, root, partition.FormatPacked, partition.DefaultIndexConfig)
	require.NoError(t, err)

	_, err = withMove.StoreUnordered(entries)
	require.NoError(t, err)
	_, err = withoutMove.StoreUnordered(entries)
	require.NoError(t, err)
	return withMove, withoutMove
}

func TestQueryAfterE4WithE5Continuation(t *testing.T) {
	withMove, withoutMove := buildStore(t)

	engine := query.NewEngine(
		func(bucket query.Bucket, hashBucket uint32, wantWithMove bool) (*partition.Partition, bool) {
			if bucket.Level != level.Human || bucket.Result != level.WhiteWin {
				return nil, false
			}
			if wantWithMove {
				return withMove, true
			}
			return withoutMove, true
		},
		func(level.Level) (*headerstore.Store, bool) { return nil, false },
	)

	results, err := engine.Query(query.Request{
		Roots:       []query.Root{{FEN: startFEN, Move: "e4"}},
		Buckets:     []query.Bucket{{Level: level.Human, Result: level.WhiteWin}, {Level: level.Human, Result: level.Draw}},
		Categories:  []query.CategoryRequest{{Category: query.Transpositions, WantChildren: true}, {Category: query.Continuations, WantChildren: true}},
		BucketCount: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	rr := results[0]
	require.Len(t, rr.Buckets, 2)

	whiteWin := rr.Buckets[0]
	require.Equal(t, level.WhiteWin, whiteWin.Bucket.Result)
	require.Equal(t, uint64(1), whiteWin.Categories[query.Transpositions].RootEntry.Count)

	e5Continuation, ok := whiteWin.Categories[query.Continuations].Children["e7e5"]
	require.True(t, ok)
	require.Equal(t, uint64(1), e5Continuation.Count)

	draw := rr.Buckets[1]
	require.Equal(t, uint64(0), draw.Categories[query.Transpositions].RootEntry.Count)
}
