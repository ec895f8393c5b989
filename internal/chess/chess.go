// Package chess is the thin boundary over the external chess rules kernel
// (github.com/freeeve/pgn/v3): position representation, move application,
// SAN/FEN parsing and legal move generation. posdb never reaches past this
// package into the kernel directly, so the kernel can be swapped without
// touching the archive codecs, the store, or the query engine.
package chess

import (
	"fmt"

	"github.com/freeeve/pgn/v3"
)

// Position is a live board position: pieces, side to move, castling and
// en-passant state, with legal moves that can be generated and applied.
type Position = pgn.GameState

// Packed is the kernel's compressed 24-byte position encoding (spec §2).
// It is the format BCGN stores as an optional custom start position, and
// what FEN is normalized into before hashing.
type Packed = pgn.PackedPosition

// Move is the kernel's move representation, as returned by SAN parsing and
// legal move generation.
type Move = pgn.Mv

// Promotion piece codes, re-exported so callers never import pgn directly.
const (
	PromoNone   = byte(pgn.NoPromo)
	PromoQueen  = byte(pgn.PromoQueen)
	PromoRook   = byte(pgn.PromoRook)
	PromoBishop = byte(pgn.PromoBishop)
	PromoKnight = byte(pgn.PromoKnight)
)

// StartingPosition returns a fresh Position at the standard chess start.
func StartingPosition() *Position { return pgn.NewStartingPosition() }

// FromFEN parses a FEN string into a live Position.
func FromFEN(fen string) (*Position, error) {
	pos, err := pgn.NewGame(fen)
	if err != nil {
		return nil, fmt.Errorf("chess: parse FEN %q: %w", fen, err)
	}
	return pos, nil
}

// Pack returns the compressed encoding of pos.
func Pack(pos *Position) Packed { return pos.Pack() }

// Unpack rebuilds a live Position from its compressed encoding (used by
// BCGN to restore a custom start position before replaying its move text).
func Unpack(p Packed) *Position { return p.Unpack() }

// PackedSize is the wire width of a Packed position (spec §2/§6: "compressed
// position (24 bytes)").
const PackedSize = 24

// PackedBytes returns p's raw PackedSize-byte encoding.
func PackedBytes(p Packed) []byte { return []byte(p.String()) }

// PackedFromBytes parses a PackedSize-byte encoding produced by PackedBytes.
func PackedFromBytes(b []byte) (Packed, error) {
	packed, err := pgn.ParsePackedPosition(string(b))
	if err != nil {
		return Packed{}, fmt.Errorf("chess: parse packed bytes: %w", err)
	}
	return packed, nil
}

// PackedFromFEN parses FEN directly to its packed form, without building a
// mutable Position (used when only the key, not legal moves, is needed).
func PackedFromFEN(fen string) (Packed, error) {
	s, err := pgn.PackedPositionFromFEN(fen)
	if err != nil {
		return Packed{}, fmt.Errorf("chess: packed FEN %q: %w", fen, err)
	}
	packed, err := pgn.ParsePackedPosition(s)
	if err != nil {
		return Packed{}, fmt.Errorf("chess: parse packed position: %w", err)
	}
	return packed, nil
}

// ParseSAN parses a SAN move token against pos's current position.
func ParseSAN(pos *Position, san string) (Move, error) {
	mv, err := pgn.ParseSAN(pos, san)
	if err != nil {
		return Move{}, fmt.Errorf("chess: parse SAN %q: %w", san, err)
	}
	return mv, nil
}

// Apply applies mv to pos in place.
func Apply(pos *Position, mv Move) error {
	if err := pgn.ApplyMove(pos, mv); err != nil {
		return fmt.Errorf("chess: apply move: %w", err)
	}
	return nil
}

// LegalMoves enumerates the legal moves from pos's current position.
func LegalMoves(pos *Position) []Move {
	return pgn.GenerateLegalMoves(pos)
}

// Clone returns an independent copy of pos so a caller can apply a move to
// explore a child position without disturbing the original.
func Clone(pos *Position) *Position {
	cp := *pos
	return &cp
}

// ToFEN renders pos as a FEN string.
func ToFEN(pos *Position) string { return pos.ToFEN() }
