package eco_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/eco"
)

const sampleTSV = "eco\tname\tpgn\n" +
	"B00\tKing's Pawn Game\t1. e4\n" +
	"C50\tItalian Game\t1. e4 e5 2. Nf3 Nc6 3. Bc4\n"

func writeSampleTSV(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "eco.tsv")
	require.NoError(t, os.WriteFile(path, []byte(sampleTSV), 0o644))
	return dir
}

func TestLoadAndLookup(t *testing.T) {
	db := eco.NewDatabase()
	require.NoError(t, db.LoadDir(writeSampleTSV(t)))
	require.Equal(t, 2, db.Count())

	pos := chess.StartingPosition()
	mv, err := chess.ParseSAN(pos, "e4")
	require.NoError(t, err)
	require.NoError(t, chess.Apply(pos, mv))

	o := db.LookupPosition(pos)
	require.NotNil(t, o)
	require.Equal(t, "B00", o.ECO)

	cat, idx, ok := o.CategoryIndex()
	require.True(t, ok)
	require.Equal(t, uint8(1), cat) // 'B' - 'A'
	require.Equal(t, uint8(0), idx)
	require.Equal(t, byte('B'), eco.CategoryLetter(cat))
}

func TestItalianGame(t *testing.T) {
	db := eco.NewDatabase()
	require.NoError(t, db.LoadDir(writeSampleTSV(t)))

	pos := chess.StartingPosition()
	for _, san := range []string{"e4", "e5", "Nf3", "Nc6", "Bc4"} {
		mv, err := chess.ParseSAN(pos, san)
		require.NoError(t, err)
		require.NoError(t, chess.Apply(pos, mv))
	}

	o := db.LookupPosition(pos)
	require.NotNil(t, o)
	require.Equal(t, "C50", o.ECO)
	cat, idx, ok := o.CategoryIndex()
	require.True(t, ok)
	require.Equal(t, uint8(2), cat)
	require.Equal(t, uint8(50), idx)
}

func TestLookupUnclassified(t *testing.T) {
	db := eco.NewDatabase()
	require.NoError(t, db.LoadDir(writeSampleTSV(t)))
	require.Nil(t, db.LookupPosition(chess.StartingPosition()))
}
