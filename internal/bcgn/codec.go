package bcgn

import (
	"fmt"

	"github.com/freeeve/posdb/internal/chess"
)

// rawMoveFromMask/etc pack a move's from/to/promotion into 15 of a 16-bit
// word (spec §9: "raw compressed move pair (16 bits per move)"). The
// top bit is reserved and always zero. Flags are not stored: the decoder
// recovers them by matching the decoded (from, to, promotion) triple against
// the legal move generated from the position being replayed, which is
// always unique (spec §4.1.1's chess primitives already provide exactly
// this lookup).
const (
	rawFromMask   = 0x3F
	rawToShift    = 6
	rawToMask     = 0x3F << rawToShift
	rawPromoShift = 12
	rawPromoMask  = 0x7 << rawPromoShift
)

func encodeMoveRaw(mv chess.Move) uint16 {
	return uint16(mv.From&0x3F) | uint16(mv.To&0x3F)<<rawToShift | uint16(mv.Promo&0x7)<<rawPromoShift
}

func decodeMoveRawFields(v uint16) (from, to int, promo byte) {
	from = int(v & rawFromMask)
	to = int((v & rawToMask) >> rawToShift)
	promo = byte((v & rawPromoMask) >> rawPromoShift)
	return
}

// findLegalMove locates the legal move from pos matching (from, to, promo),
// recovering the kernel-assigned flags (castle/en-passant/capture/etc.) that
// the compact encodings deliberately omit.
func findLegalMove(pos *chess.Position, from, to int, promo byte) (chess.Move, error) {
	for _, mv := range chess.LegalMoves(pos) {
		if int(mv.From) == from && int(mv.To) == to && byte(mv.Promo) == promo {
			return mv, nil
		}
	}
	return chess.Move{}, fmt.Errorf("bcgn: no legal move matches from=%d to=%d promo=%d", from, to, promo)
}

// encodeMoveIndex returns mv's index into pos's legal move list, in the
// deterministic order chess.LegalMoves produces (spec §9: "position-relative
// index (8 or 16 bits per move depending on the legal-move count at that
// ply)").
func encodeMoveIndex(pos *chess.Position, mv chess.Move) (index int, legalCount int, err error) {
	legal := chess.LegalMoves(pos)
	for i, candidate := range legal {
		if candidate.From == mv.From && candidate.To == mv.To && byte(candidate.Promo) == byte(mv.Promo) {
			return i, len(legal), nil
		}
	}
	return 0, len(legal), fmt.Errorf("bcgn: move not found in legal move list")
}

// decodeMoveIndex recovers the move at index in pos's legal move list.
func decodeMoveIndex(pos *chess.Position, index int) (chess.Move, error) {
	legal := chess.LegalMoves(pos)
	if index < 0 || index >= len(legal) {
		return chess.Move{}, fmt.Errorf("bcgn: move index %d out of range (%d legal)", index, len(legal))
	}
	return legal[index], nil
}

// encodeMoves serializes moves, replayed from start, into a move-text byte
// slice under the given compression level.
func encodeMoves(start *chess.Position, moves []chess.Move, level uint8) ([]byte, error) {
	pos := chess.Clone(start)
	var buf []byte
	for i, mv := range moves {
		switch level {
		case CompressionRaw:
			var tmp [2]byte
			putUint16(tmp[:], encodeMoveRaw(mv))
			buf = append(buf, tmp[:]...)
		case CompressionIndex:
			index, legalCount, err := encodeMoveIndex(pos, mv)
			if err != nil {
				return nil, fmt.Errorf("bcgn: encode move %d: %w", i, err)
			}
			if legalCount <= 255 {
				buf = append(buf, byte(index))
			} else {
				var tmp [2]byte
				putUint16(tmp[:], uint16(index))
				buf = append(buf, tmp[:]...)
			}
		default:
			return nil, fmt.Errorf("bcgn: unknown compression level %d", level)
		}
		if err := chess.Apply(pos, mv); err != nil {
			return nil, fmt.Errorf("bcgn: encode move %d: apply: %w", i, err)
		}
	}
	return buf, nil
}

// decodeMoves parses n moves from buf (replayed from start) under the given
// compression level, returning the decoded moves and the number of bytes
// consumed.
func decodeMoves(start *chess.Position, buf []byte, n int, level uint8) ([]chess.Move, int, error) {
	pos := chess.Clone(start)
	moves := make([]chess.Move, 0, n)
	consumed := 0
	for i := 0; i < n; i++ {
		var mv chess.Move
		var err error
		switch level {
		case CompressionRaw:
			if len(buf[consumed:]) < 2 {
				return nil, 0, fmt.Errorf("bcgn: truncated move %d", i)
			}
			from, to, promo := decodeMoveRawFields(getUint16(buf[consumed : consumed+2]))
			consumed += 2
			mv, err = findLegalMove(pos, from, to, promo)
		case CompressionIndex:
			legalCount := len(chess.LegalMoves(pos))
			var index int
			if legalCount <= 255 {
				if len(buf[consumed:]) < 1 {
					return nil, 0, fmt.Errorf("bcgn: truncated move %d", i)
				}
				index = int(buf[consumed])
				consumed++
			} else {
				if len(buf[consumed:]) < 2 {
					return nil, 0, fmt.Errorf("bcgn: truncated move %d", i)
				}
				index = int(getUint16(buf[consumed : consumed+2]))
				consumed += 2
			}
			mv, err = decodeMoveIndex(pos, index)
		default:
			return nil, 0, fmt.Errorf("bcgn: unknown compression level %d", level)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("bcgn: decode move %d: %w", i, err)
		}
		if err := chess.Apply(pos, mv); err != nil {
			return nil, 0, fmt.Errorf("bcgn: decode move %d: apply: %w", i, err)
		}
		moves = append(moves, mv)
	}
	return moves, consumed, nil
}
