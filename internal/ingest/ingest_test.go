package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/partition"
)

const samplePGN = `[Event "Test Open"]
[Site "?"]
[Date "2024.01.01"]
[Round "1"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]
[WhiteElo "2200"]
[BlackElo "2100"]

1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 1-0

[Event "Test Open"]
[Site "?"]
[Date "2024.01.02"]
[Round "2"]
[White "Carol"]
[Black "Dave"]
[Result "1/2-1/2"]

1. d4 d5 2. c4 e6 1/2-1/2

[Event "Test Open"]
[Site "?"]
[Date "2024.01.03"]
[Round "3"]
[White "Eve"]
[Black "Frank"]
[Result "*"]

1. e4 e5 *
`

func writeSample(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestDriver(t *testing.T, root string, opts ingest.Options) *ingest.Driver {
	t.Helper()
	headers := map[level.Level]*headerstore.Store{}
	partitions := map[partition.Key]*partition.Partition{}

	openHeaders := func(lvl level.Level) (*headerstore.Store, error) {
		if s, ok := headers[lvl]; ok {
			return s, nil
		}
		dir := filepath.Join(root, "headers", lvl.String())
		s, err := headerstore.Open(dir)
		if err != nil {
			return nil, err
		}
		headers[lvl] = s
		return s, nil
	}
	openPart := func(key partition.Key) (*partition.Partition, error) {
		if p, ok := partitions[key]; ok {
			return p, nil
		}
		p, err := partition.Open(key, filepath.Join(root, "partitions"), partition.FormatPacked, partition.DefaultIndexConfig)
		if err != nil {
			return nil, err
		}
		partitions[key] = p
		return p, nil
	}
	return ingest.NewDriver(opts, openPart, openHeaders)
}

func TestRunIngestsPGNArchiveAndSkipsUnknownResult(t *testing.T) {
	dir := t.TempDir()
	pgnPath := writeSample(t, dir, "sample.pgn", samplePGN)

	opts := ingest.Options{Threads: 2, BufferSize: 4, Buckets: 1, MinPGNBytesPerMove: 4}
	drv := newTestDriver(t, filepath.Join(dir, "store"), opts)

	stats, err := drv.Run(context.Background(), []ingest.Archive{{Path: pgnPath, Level: level.Human}})
	require.NoError(t, err)

	ls := stats.PerLevel[level.Human]
	require.NotNil(t, ls)
	require.Equal(t, uint64(2), ls.Games)
	require.Equal(t, uint64(1), ls.SkippedGames)
	require.True(t, ls.Positions > 0)
}

func TestRunAssignsHeaderIndices(t *testing.T) {
	dir := t.TempDir()
	pgnPath := writeSample(t, dir, "sample.pgn", samplePGN)
	storeRoot := filepath.Join(dir, "store")

	opts := ingest.Options{Threads: 1, BufferSize: 8, Buckets: 1, MinPGNBytesPerMove: 4}
	drv := newTestDriver(t, storeRoot, opts)

	_, err := drv.Run(context.Background(), []ingest.Archive{{Path: pgnPath, Level: level.Human}})
	require.NoError(t, err)

	hs, err := headerstore.Open(filepath.Join(storeRoot, "headers", level.Human.String()))
	require.NoError(t, err)
	defer hs.Close()
	require.Equal(t, uint64(2), hs.Count())

	got, err := hs.Query([]uint64{0, 1})
	require.NoError(t, err)
	require.Equal(t, "Alice", got[0].White)
	require.Equal(t, "Carol", got[1].White)
}
