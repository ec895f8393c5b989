package headerstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
)

func TestAddGameAssignsMonotonicIndices(t *testing.T) {
	s, err := headerstore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	idx0, err := s.AddGame(headerstore.Header{White: "A", Black: "B", Ply: 40, Result: level.WhiteWin})
	require.NoError(t, err)
	idx1, err := s.AddGame(headerstore.Header{White: "C", Black: "D", Ply: 60, Result: level.Draw})
	require.NoError(t, err)

	require.Equal(t, uint64(0), idx0)
	require.Equal(t, uint64(1), idx1)
	require.Equal(t, uint64(2), s.Count())
}

func TestQueryRoundTripAndOrder(t *testing.T) {
	s, err := headerstore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	headers := []headerstore.Header{
		{White: "Carlsen", Black: "Nepomniachtchi", Event: "WCC", Year: 2024, Ply: 80, Result: level.WhiteWin, ECOCategory: 2, ECOIndex: 50},
		{White: "Ding", Black: "Gukesh", Event: "WCC 2", Year: 2025, Ply: 55, Result: level.BlackLoss},
		{White: "X", Black: "Y", Ply: 10, Result: level.Draw},
	}
	for _, h := range headers {
		_, err := s.AddGame(h)
		require.NoError(t, err)
	}

	got, err := s.Query([]uint64{2, 0, 1})
	require.NoError(t, err)
	require.Equal(t, headers[2].White, got[0].White)
	require.Equal(t, headers[0].White, got[1].White)
	require.Equal(t, headers[0].Event, got[1].Event)
	require.Equal(t, headers[0].ECOIndex, got[1].ECOIndex)
	require.Equal(t, headers[1].White, got[2].White)
}

func TestQueryOutOfRangeErrors(t *testing.T) {
	s, err := headerstore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddGame(headerstore.Header{White: "A", Black: "B", Ply: 1, Result: level.Draw})
	require.NoError(t, err)

	_, err = s.Query([]uint64{5})
	require.Error(t, err)
}

func TestReopenPreservesCount(t *testing.T) {
	dir := t.TempDir()
	s, err := headerstore.Open(dir)
	require.NoError(t, err)
	_, err = s.AddGame(headerstore.Header{White: "A", Black: "B", Ply: 1, Result: level.Draw})
	require.NoError(t, err)
	_, err = s.AddGame(headerstore.Header{White: "C", Black: "D", Ply: 2, Result: level.WhiteWin})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := headerstore.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint64(2), reopened.Count())

	got, err := reopened.Query([]uint64{0, 1})
	require.NoError(t, err)
	require.Equal(t, "A", got[0].White)
	require.Equal(t, "C", got[1].White)
}

func TestStringTruncation(t *testing.T) {
	s, err := headerstore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'z'
	}
	idx, err := s.AddGame(headerstore.Header{White: string(long), Ply: 1, Result: level.Draw})
	require.NoError(t, err)

	got, err := s.Query([]uint64{idx})
	require.NoError(t, err)
	require.Len(t, got[0].White, headerstore.MaxStringLen)
}
