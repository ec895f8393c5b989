package bcgn_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/bcgn"
	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/level"
)

func sampleMoves(t *testing.T, start *chess.Position, sans ...string) []chess.Move {
	t.Helper()
	pos := chess.Clone(start)
	moves := make([]chess.Move, 0, len(sans))
	for _, san := range sans {
		mv, err := chess.ParseSAN(pos, san)
		require.NoError(t, err)
		require.NoError(t, chess.Apply(pos, mv))
		moves = append(moves, mv)
	}
	return moves
}

func writeAndReadOne(t *testing.T, header bcgn.FileHeader, rec *bcgn.Record) *bcgn.Record {
	t.Helper()
	var buf bytes.Buffer
	w, err := bcgn.NewWriter(&buf, header)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(rec))
	require.NoError(t, w.Close())

	r, err := bcgn.NewReader(&buf)
	require.NoError(t, err)
	got, err := r.NextRecord()
	require.NoError(t, err)
	_, err = r.NextRecord()
	require.ErrorIs(t, err, io.EOF)
	return got
}

func TestRoundTripRawCompression(t *testing.T) {
	start := chess.StartingPosition()
	rec := &bcgn.Record{
		Result:   level.WhiteWin,
		Year:     2024,
		Month:    3,
		Day:      14,
		WhiteElo: 2400,
		BlackElo: 2380,
		Round:    1,
		White:    "Carlsen, Magnus",
		Black:    "Nepomniachtchi, Ian",
		Event:    "World Championship",
		Site:     "Los Angeles",
		Moves:    sampleMoves(t, start, "e4", "e5", "Nf3", "Nc6", "Bb5"),
	}

	got := writeAndReadOne(t, bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionRaw}, rec)
	require.Equal(t, rec.Result, got.Result)
	require.Equal(t, rec.Year, got.Year)
	require.Equal(t, rec.White, got.White)
	require.Equal(t, rec.Black, got.Black)
	require.Equal(t, rec.Event, got.Event)
	require.Equal(t, rec.Site, got.Site)
	require.Len(t, got.Moves, len(rec.Moves))
	for i := range rec.Moves {
		require.Equal(t, rec.Moves[i].From, got.Moves[i].From)
		require.Equal(t, rec.Moves[i].To, got.Moves[i].To)
		require.Equal(t, rec.Moves[i].Promo, got.Moves[i].Promo)
	}
}

func TestRoundTripIndexCompression(t *testing.T) {
	start := chess.StartingPosition()
	rec := &bcgn.Record{
		Result: level.Draw,
		White:  "A",
		Black:  "B",
		Moves:  sampleMoves(t, start, "d4", "Nf6", "c4", "e6", "Nc3", "Bb4"),
	}

	got := writeAndReadOne(t, bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionIndex}, rec)
	require.Len(t, got.Moves, len(rec.Moves))
	for i := range rec.Moves {
		require.Equal(t, rec.Moves[i].From, got.Moves[i].From)
		require.Equal(t, rec.Moves[i].To, got.Moves[i].To)
	}
}

func TestRoundTripCustomStartAndTags(t *testing.T) {
	start := chess.StartingPosition()
	for _, san := range []string{"e4", "e5"} {
		mv, err := chess.ParseSAN(start, san)
		require.NoError(t, err)
		require.NoError(t, chess.Apply(start, mv))
	}
	packed := chess.Pack(start)

	rec := &bcgn.Record{
		Result:         level.BlackLoss,
		HasCustomStart: true,
		CustomStart:    packed,
		White:          "X",
		Black:          "Y",
		AdditionalTags: []bcgn.Tag{{Name: "Annotator", Value: "x"}},
		Moves:          sampleMoves(t, start, "Nf3", "Nc6", "Bb5", "a6"),
	}

	got := writeAndReadOne(t, bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionIndex}, rec)
	require.True(t, got.HasCustomStart)
	require.Equal(t, packed, got.CustomStart)
	require.Equal(t, rec.AdditionalTags, got.AdditionalTags)
	require.Len(t, got.Moves, len(rec.Moves))
}

func TestRoundTripAuxCompression(t *testing.T) {
	start := chess.StartingPosition()
	rec := &bcgn.Record{
		Result:         level.WhiteWin,
		White:          "Player with a fairly long name",
		Black:          "Another player",
		Event:          "Some Open",
		Site:           "Somewhere",
		AdditionalTags: []bcgn.Tag{{Name: "ECO", Value: "C50"}, {Name: "Annotator", Value: "engine"}},
		Moves:          sampleMoves(t, start, "e4", "e5", "Bc4"),
	}

	header := bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionRaw, AuxCompression: true}
	got := writeAndReadOne(t, header, rec)
	require.Equal(t, rec.White, got.White)
	require.Equal(t, rec.AdditionalTags, got.AdditionalTags)
}

func TestOversizeRecordRejected(t *testing.T) {
	start := chess.StartingPosition()
	rec := &bcgn.Record{
		White: string(make([]byte, 2000)), // truncated to 255, but inflate via tags instead
	}
	tags := make([]bcgn.Tag, 2000)
	for i := range tags {
		tags[i] = bcgn.Tag{Name: "Tag", Value: "01234567890123456789012345678901234567890123456789"}
	}
	rec.AdditionalTags = tags
	rec.Moves = sampleMoves(t, start, "e4")

	var buf bytes.Buffer
	w, err := bcgn.NewWriter(&buf, bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionRaw})
	require.NoError(t, err)
	err = w.WriteRecord(rec)
	require.ErrorIs(t, err, bcgn.ErrOversizeRecord)
}

func TestStringTruncation(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	start := chess.StartingPosition()
	rec := &bcgn.Record{White: string(long), Moves: sampleMoves(t, start, "e4")}

	got := writeAndReadOne(t, bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionRaw}, rec)
	require.Len(t, got.White, bcgn.MaxStringLen)
	require.Equal(t, string(long[:bcgn.MaxStringLen]), got.White)
}
