// Package eco provides ECO (Encyclopedia of Chess Openings) classification,
// used to populate the numeric "ECO category"/"ECO index" header fields BCGN
// stores for each game (spec §4.1.2). Openings are loaded from TSV files
// (eco\tname\tpgn per line) and looked up by the packed position reached
// after replaying an opening's move list.
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/freeeve/posdb/internal/chess"
)

// Opening is one classified line from an ECO TSV file.
type Opening struct {
	ECO  string // e.g. "C50"
	Name string
}

// CategoryIndex returns the opening's ECO category as a dense 0-4 ordinal
// (A=0 .. E=4) and its two-digit numeric suffix (0-99), the
// pair BCGN's header stores as two single bytes (spec §4.1.2: "u8 ECO
// category, u8 ECO index").
func (o Opening) CategoryIndex() (category, index uint8, ok bool) {
	if len(o.ECO) != 3 {
		return 0, 0, false
	}
	letter := o.ECO[0]
	if letter < 'A' || letter > 'E' {
		return 0, 0, false
	}
	n, err := strconv.Atoi(o.ECO[1:])
	if err != nil || n < 0 || n > 99 {
		return 0, 0, false
	}
	return letter - 'A', uint8(n), true
}

// CategoryLetter maps a 0-4 category ordinal back to its 'A'..'E' letter.
func CategoryLetter(category uint8) byte { return 'A' + category }

// Database holds ECO opening data indexed by the packed position reached at
// the end of the opening's move sequence.
type Database struct {
	byPosition map[chess.Packed]Opening
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{byPosition: make(map[chess.Packed]Opening)}
}

// moveNumberRegex strips move numbers like "1." or "12..." from a PGN move
// list before SAN tokenization.
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads every *.tsv file in dir.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("eco: no .tsv files found in %s", dir)
	}
	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("eco: load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads one TSV file of "eco\tname\tmoves" lines.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		o := Opening{ECO: parts[0], Name: parts[1]}
		pos := chess.StartingPosition()
		if err := db.applyMoves(pos, parts[2]); err != nil {
			continue
		}
		db.byPosition[chess.Pack(pos)] = o
		db.count++
	}
	return scanner.Err()
}

// applyMoves replays a PGN-style move list ("1. e4 e5 2. Nf3 Nc6") against
// pos, stripping move numbers, NAGs, and check/mate suffixes.
func (db *Database) applyMoves(pos *chess.Position, pgnMoves string) error {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	for _, san := range strings.Fields(cleaned) {
		if san == "" || san[0] == '$' || san[0] == '{' {
			continue
		}
		san = strings.TrimSuffix(strings.TrimSuffix(san, "+"), "#")
		mv, err := chess.ParseSAN(pos, san)
		if err != nil {
			return fmt.Errorf("parse %q: %w", san, err)
		}
		if err := chess.Apply(pos, mv); err != nil {
			return fmt.Errorf("apply %q: %w", san, err)
		}
	}
	return nil
}

// Lookup returns the opening classified at packed, or nil if unclassified.
func (db *Database) Lookup(packed chess.Packed) *Opening {
	if o, ok := db.byPosition[packed]; ok {
		return &o
	}
	return nil
}

// LookupPosition returns the opening classified at pos's current position.
func (db *Database) LookupPosition(pos *chess.Position) *Opening {
	return db.Lookup(chess.Pack(pos))
}

// Count returns the number of openings loaded.
func (db *Database) Count() int { return db.count }
