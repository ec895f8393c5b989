package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/level"
)

const oneGamePGN = `[Event "Test"]
[Site "?"]
[Date "2024.01.01"]
[Round "1"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 1-0
`

// execRoot runs rootCmd with args. Flag values set by an earlier call are
// not reset, so they stay set in cobra's flag set for later calls.
func execRoot(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCreateThenMergeRoundTrip(t *testing.T) {
	archiveDir := t.TempDir()
	pgnPath := filepath.Join(archiveDir, "sample.pgn")
	require.NoError(t, os.WriteFile(pgnPath, []byte(oneGamePGN), 0o644))

	listPath := filepath.Join(archiveDir, "archives.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("human;"+pgnPath+"\n"), 0o644))

	dest := filepath.Join(t.TempDir(), "db")
	require.NoError(t, execRoot(t, "create", db.FormatKey, dest, listPath, "--memory", "0"))

	handle, err := db.Open(dest, db.DefaultOptions)
	require.NoError(t, err)
	defer handle.Close()

	stats := handle.Stats()
	require.Equal(t, uint64(1), stats[level.Human].Games)

	require.NoError(t, execRoot(t, "merge", dest))
}

func TestParseArchiveListFileSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("\nhuman;a.pgn\n\nengine;b.pgn\n"), 0o644))

	archives, err := parseArchiveListFile(path)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	require.Equal(t, level.Human, archives[0].Level)
	require.Equal(t, level.Engine, archives[1].Level)
}

func TestParseArchiveListFileRejectsMissingSeparator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("human-no-semicolon\n"), 0o644))

	_, err := parseArchiveListFile(path)
	require.Error(t, err)
}
