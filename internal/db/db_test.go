package db_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/query"
)

func writePGN(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const singleGamePGN = `[Event "Test"]
[Site "?"]
[Date "2024.01.01"]
[Round "1"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 1-0
`

func TestOpenCreatesManifestAndEmptyStats(t *testing.T) {
	dir := t.TempDir()
	database, err := db.Open(dir, db.DefaultOptions)
	require.NoError(t, err)
	defer database.Close()

	require.FileExists(t, filepath.Join(dir, "manifest"))
	stats := database.Stats()
	require.Empty(t, stats)
}

func TestOpenRefusesKeyMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest"), []byte(`{"key":"other-format","endianness":"little"}`), 0o644))

	_, err := db.Open(dir, db.DefaultOptions)
	require.Error(t, err)
}

func TestOpenRefusesInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest"), []byte(`not json`), 0o644))

	_, err := db.Open(dir, db.DefaultOptions)
	require.Error(t, err)
}

func TestImportThenQueryAfterE4(t *testing.T) {
	dir := t.TempDir()
	database, err := db.Open(dir, db.DefaultOptions)
	require.NoError(t, err)
	defer database.Close()

	archDir := t.TempDir()
	path := writePGN(t, archDir, "sample.pgn", singleGamePGN)

	stats, err := database.Import(context.Background(), []ingest.Archive{{Path: path, Level: level.Human}}, ingest.Options{Threads: 1, BufferSize: 8, MinPGNBytesPerMove: 4})
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.PerLevel[level.Human].Games)

	lifetime := database.Stats()
	require.Equal(t, uint64(1), lifetime[level.Human].Games)

	results, err := database.Query(query.Request{
		Roots:      []query.Root{{FEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", Move: "e4"}},
		Buckets:    []query.Bucket{{Level: level.Human, Result: level.WhiteWin}, {Level: level.Human, Result: level.Draw}},
		Categories: []query.CategoryRequest{{Category: query.Transpositions, WantChildren: true}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	whiteWin := results[0].Buckets[0]
	require.Equal(t, level.WhiteWin, whiteWin.Bucket.Result)
	require.Equal(t, uint64(1), whiteWin.Categories[query.Transpositions].RootEntry.Count)

	draw := results[0].Buckets[1]
	require.Equal(t, uint64(0), draw.Categories[query.Transpositions].RootEntry.Count)
}

func TestReplicateMergeAllCarriesHeadersAndManifest(t *testing.T) {
	dir := t.TempDir()
	database, err := db.Open(dir, db.DefaultOptions)
	require.NoError(t, err)

	archDir := t.TempDir()
	path := writePGN(t, archDir, "sample.pgn", singleGamePGN)

	_, err = database.Import(context.Background(), []ingest.Archive{{Path: path, Level: level.Human}}, ingest.Options{Threads: 1, BufferSize: 8, MinPGNBytesPerMove: 4})
	require.NoError(t, err)
	require.NoError(t, database.OpenAllPartitions())

	replicaDir := filepath.Join(t.TempDir(), "replica")
	require.NoError(t, database.ReplicateMergeAll(replicaDir, nil))
	require.NoError(t, database.Close())

	require.FileExists(t, filepath.Join(replicaDir, "manifest"))
	require.FileExists(t, filepath.Join(replicaDir, "header_"+level.Human.String(), "headers.log"))
	require.FileExists(t, filepath.Join(replicaDir, "header_"+level.Human.String(), "headers.idx"))

	replica, err := db.Open(replicaDir, db.DefaultOptions)
	require.NoError(t, err)
	defer replica.Close()

	results, err := replica.Query(query.Request{
		Roots:      []query.Root{{FEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", Move: "e4"}},
		Buckets:    []query.Bucket{{Level: level.Human, Result: level.WhiteWin}},
		Categories: []query.CategoryRequest{{Category: query.Transpositions, FetchHeader: true}},
	})
	require.NoError(t, err)
	entry := results[0].Buckets[0].Categories[query.Transpositions].RootEntry
	require.Equal(t, uint64(1), entry.Count)
	require.True(t, entry.HasFirstGame)
	require.NotNil(t, entry.FirstGame)
	require.Equal(t, "Alice", entry.FirstGame.White)
}

func TestImportTwiceThenMergeAllCombinesCounts(t *testing.T) {
	dir := t.TempDir()
	database, err := db.Open(dir, db.DefaultOptions)
	require.NoError(t, err)
	defer database.Close()

	archDir := t.TempDir()
	path := writePGN(t, archDir, "sample.pgn", singleGamePGN)

	_, err = database.Import(context.Background(), []ingest.Archive{{Path: path, Level: level.Human}}, ingest.Options{Threads: 1, BufferSize: 8, MinPGNBytesPerMove: 4})
	require.NoError(t, err)
	_, err = database.Import(context.Background(), []ingest.Archive{{Path: path, Level: level.Human}}, ingest.Options{Threads: 1, BufferSize: 8, MinPGNBytesPerMove: 4})
	require.NoError(t, err)

	require.NoError(t, database.OpenAllPartitions())
	require.NoError(t, database.MergeAll(nil))

	results, err := database.Query(query.Request{
		Roots:      []query.Root{{FEN: "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", Move: "e4"}},
		Buckets:    []query.Bucket{{Level: level.Human, Result: level.WhiteWin}},
		Categories: []query.CategoryRequest{{Category: query.Transpositions}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), results[0].Buckets[0].Categories[query.Transpositions].RootEntry.Count)
}
