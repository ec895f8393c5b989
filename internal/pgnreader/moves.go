package pgnreader

import (
	"fmt"
	"strings"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/level"
)

// resultTokens are the move-region's legitimate terminators (spec §4.1.1:
// "the move region ... ending in a result token").
var resultTokens = map[string]bool{
	"1-0": true, "0-1": true, "1/2-1/2": true, "*": true,
}

// Position is one yielded position in a game's replay: the board state
// after reverseMove was applied (the zero Move for the starting position),
// the ply depth, and whether the side to move is white.
type Position struct {
	Pos         *chess.Position
	ReverseMove chess.Move  // zero value for the game's start position
	HasMove     bool        // false only for the start position
	Ply         int         // 0 for the start position
	WhiteToMove bool        // side to move before ReverseMove was made is the opposite
}

// Game wraps one UnparsedGame with lazy tag and position access (spec
// §4.1.1: "parsing tags and positions is deferred until requested").
type Game struct {
	raw UnparsedGame
}

// NewGame wraps an UnparsedGame for lazy parsing.
func NewGame(raw UnparsedGame) *Game { return &Game{raw: raw} }

// Tag looks up a tag by name in the game's tag region.
func (g *Game) Tag(name string) (string, bool) { return Tag(g.raw.TagRegion, name) }

// Result decodes the game's Result tag, reporting false for an absent or
// unfinished/unknown ("*") result (spec §3: games with unknown result are
// skipped at ingest).
func (g *Game) Result() (level.Result, bool) { return ResultTag(g.raw.TagRegion) }

// Positions replays the game's move region and yields every resulting
// position, including the start position (spec §4.1.1: "an N-ply game
// yields N+1 positions"). Iteration stops the moment a SAN token cannot be
// located, matching the documented ambiguity in spec §9 Open Questions:
// "the PGN position iterator ends a game as soon as a SAN token cannot be
// located". Terminated reports whether the move region ended cleanly on a
// recognized result token (1-0/0-1/1/2-1/2/*) rather than truncating
// mid-stream, so callers can tell a clean end from likely corruption.
func (g *Game) Positions() (positions []Position, terminated bool, err error) {
	var start *chess.Position
	if fen, ok := FENTag(g.raw.TagRegion); ok {
		start, err = chess.FromFEN(fen)
		if err != nil {
			return nil, false, fmt.Errorf("pgnreader: start FEN: %w", err)
		}
	} else {
		start = chess.StartingPosition()
	}

	positions = append(positions, Position{Pos: start, Ply: 0, WhiteToMove: true})

	pos := start
	ply := 0
	tz := newTokenizer(g.raw.MoveRegion)
	for {
		tok, ok := tz.next()
		if !ok {
			return positions, false, nil
		}
		if resultTokens[tok] {
			return positions, true, nil
		}
		mv, perr := chess.ParseSAN(pos, tok)
		if perr != nil {
			// Cannot locate/parse a SAN token here: stop, as documented.
			return positions, false, nil
		}
		next := chess.Clone(pos)
		if aerr := chess.Apply(next, mv); aerr != nil {
			return positions, false, nil
		}
		ply++
		positions = append(positions, Position{
			Pos:         next,
			ReverseMove: mv,
			HasMove:     true,
			Ply:         ply,
			WhiteToMove: ply%2 == 0,
		})
		pos = next
	}
}

// tokenizer walks a move region, skipping move numbers/dots/NAGs/whitespace,
// flat `{...}`/`;...\n` comments, and nested `(...)` variations, and
// returning each remaining SAN/result token in turn (spec §4.1.1).
type tokenizer struct {
	buf []byte
	pos int
}

func newTokenizer(buf []byte) *tokenizer { return &tokenizer{buf: buf} }

func (t *tokenizer) next() (string, bool) {
	for {
		t.skipSpace()
		if t.pos >= len(t.buf) {
			return "", false
		}
		c := t.buf[t.pos]
		switch {
		case c == '{':
			t.skipBraceComment()
			continue
		case c == ';':
			t.skipLineComment()
			continue
		case c == '(':
			t.skipVariation()
			continue
		case c == '$':
			t.skipNAG()
			continue
		case isDigit(c) && t.looksLikeMoveNumber():
			t.skipMoveNumber()
			continue
		}
		return t.readToken(), true
	}
}

func (t *tokenizer) skipSpace() {
	for t.pos < len(t.buf) && isSpace(t.buf[t.pos]) {
		t.pos++
	}
}

func (t *tokenizer) skipBraceComment() {
	for t.pos < len(t.buf) && t.buf[t.pos] != '}' {
		t.pos++
	}
	if t.pos < len(t.buf) {
		t.pos++ // consume '}'
	}
}

func (t *tokenizer) skipLineComment() {
	for t.pos < len(t.buf) && t.buf[t.pos] != '\n' {
		t.pos++
	}
	if t.pos < len(t.buf) {
		t.pos++ // consume '\n'
	}
}

// skipVariation skips a balanced (...) span; variations may nest and may
// contain comments (spec §4.1.1: "variations nest, and comments may appear
// inside variations").
func (t *tokenizer) skipVariation() {
	depth := 0
	for t.pos < len(t.buf) {
		switch t.buf[t.pos] {
		case '(':
			depth++
			t.pos++
		case ')':
			depth--
			t.pos++
			if depth == 0 {
				return
			}
		case '{':
			t.skipBraceComment()
		case ';':
			t.skipLineComment()
		default:
			t.pos++
		}
	}
}

func (t *tokenizer) skipNAG() {
	t.pos++ // consume '$'
	for t.pos < len(t.buf) && isDigit(t.buf[t.pos]) {
		t.pos++
	}
}

// looksLikeMoveNumber reports whether the digits starting at pos are
// followed by a dot, i.e. form "12." or "12..." rather
// than being the leading digit of a SAN token (no legal SAN token starts
// with a digit other than a move number, so this is unambiguous).
func (t *tokenizer) looksLikeMoveNumber() bool {
	i := t.pos
	for i < len(t.buf) && isDigit(t.buf[i]) {
		i++
	}
	return i < len(t.buf) && t.buf[i] == '.'
}

func (t *tokenizer) skipMoveNumber() {
	for t.pos < len(t.buf) && isDigit(t.buf[t.pos]) {
		t.pos++
	}
	for t.pos < len(t.buf) && t.buf[t.pos] == '.' {
		t.pos++
	}
}

// readToken reads a bare token up to the next whitespace (spec §4.1.1:
// "locating a SAN token (ends at whitespace)").
func (t *tokenizer) readToken() string {
	start := t.pos
	for t.pos < len(t.buf) && !isSpace(t.buf[t.pos]) {
		t.pos++
	}
	return strings.TrimSpace(string(t.buf[start:t.pos]))
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
