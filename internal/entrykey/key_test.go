package entrykey_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/level"
)

func TestNewKeyRoundTripsTagFields(t *testing.T) {
	hash := entrykey.Hash{1, 2, 3, 4}
	move := chess.PackMove(chess.Move{From: 12, To: 28})

	k := entrykey.NewKey(hash, move, level.Engine, level.Draw)

	require.Equal(t, move, k.Move())
	require.Equal(t, level.Engine, k.Level())
	require.Equal(t, level.Draw, k.Result())
	require.Equal(t, hash[0], k[0])
	require.Equal(t, hash[1], k[1])
	require.Equal(t, hash[2], k[2])
}

func TestWithoutMoveClearsMoveBitsOnly(t *testing.T) {
	hash := entrykey.Hash{0, 0, 0, 0xFFFFFFFF}
	move := chess.PackMove(chess.Move{From: 5, To: 20})
	k := entrykey.NewKey(hash, move, level.Server, level.WhiteWin)

	stripped := k.WithoutMove()
	require.Equal(t, chess.PackedMove(0), stripped.Move())
	require.Equal(t, level.Server, stripped.Level())
	require.Equal(t, level.WhiteWin, stripped.Result())
}

func TestHashCompareOrdersByMostSignificantLimbFirst(t *testing.T) {
	low := entrykey.Hash{1, 0, 0, 0}
	high := entrykey.Hash{2, 0, 0, 0}
	require.Equal(t, -1, low.Compare(high))
	require.Equal(t, 1, high.Compare(low))
	require.Equal(t, 0, low.Compare(low))
}

func TestKeyCompareIncludesTagBits(t *testing.T) {
	hash := entrykey.Hash{7, 7, 7, 0}
	moveA := chess.PackMove(chess.Move{From: 0, To: 1})
	moveB := chess.PackMove(chess.Move{From: 0, To: 2})
	kA := entrykey.NewKey(hash, moveA, level.Human, level.WhiteWin)
	kB := entrykey.NewKey(hash, moveB, level.Human, level.WhiteWin)

	require.NotEqual(t, 0, kA.Compare(kB))
	require.Equal(t, 0, kA.CompareIgnoringMove(kB))
}

func TestHashPositionIsDeterministicAndPositionDependent(t *testing.T) {
	start := chess.StartingPosition()
	h1 := entrykey.HashPosition(start)
	h2 := entrykey.HashPosition(start)
	require.Equal(t, h1, h2)

	mv, err := chess.ParseSAN(start, "e4")
	require.NoError(t, err)
	after := chess.Clone(start)
	require.NoError(t, chess.Apply(after, mv))

	h3 := entrykey.HashPosition(after)
	require.NotEqual(t, h1, h3)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hash := entrykey.Hash{0x11223344, 0x55667788, 0x99aabbcc, 0xddeeff00}
	move := chess.PackMove(chess.Move{From: 9, To: 33})
	k := entrykey.NewKey(hash, move, level.Engine, level.BlackLoss)

	buf := make([]byte, entrykey.KeySize)
	k.Encode(buf)
	decoded := entrykey.DecodeKey(buf)
	require.Equal(t, k, decoded)
}
