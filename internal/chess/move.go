package chess

import "github.com/freeeve/pgn/v3"

// PackedMove is the reverse-move field embedded in an entry key (spec §3):
// the move that reaches the position, packed into 27 bits so it fits
// alongside the level/result tag in the low bits of the key's last limb.
// Zero means "unspecified".
//
//	bits 0-5:   from square (0-63)
//	bits 6-11:  to square (0-63)
//	bits 12-14: promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N)
//	bits 15-26: flags, as reported by the chess kernel (e.g. castle/ep/capture)
type PackedMove uint32

const (
	packedMoveFromMask  = 0x3F
	packedMoveToShift   = 6
	packedMoveToMask    = 0x3F << packedMoveToShift
	packedMovePromoShift = 12
	packedMovePromoMask = 0x7 << packedMovePromoShift
	packedMoveFlagsShift = 15
	packedMoveFlagsMask  = 0xFFF << packedMoveFlagsShift

	// PackedMoveBits is the field width the spec documents as "≤27 bits".
	PackedMoveBits = 27
)

// PackMove encodes mv into its 27-bit packed form.
func PackMove(mv Move) PackedMove {
	v := pgn.Mv(mv)
	p := uint32(v.From&0x3F) | (uint32(v.To&0x3F) << packedMoveToShift) |
		(uint32(v.Promo&0x7) << packedMovePromoShift) |
		(uint32(v.Flags&0xFFF) << packedMoveFlagsShift)
	return PackedMove(p)
}

// From returns the source square (0-63, A1=0 .. H8=63).
func (m PackedMove) From() int { return int(m & packedMoveFromMask) }

// To returns the destination square (0-63).
func (m PackedMove) To() int { return int((m & packedMoveToMask) >> packedMoveToShift) }

// Promotion returns the packed promotion piece code.
func (m PackedMove) Promotion() byte {
	return byte((m & packedMovePromoMask) >> packedMovePromoShift)
}

// Flags returns the packed kernel move flags.
func (m PackedMove) Flags() int {
	return int((m & packedMoveFlagsMask) >> packedMoveFlagsShift)
}

// IsZero reports whether m is the "unspecified" sentinel.
func (m PackedMove) IsZero() bool { return m == 0 }

// ToUCI renders m in UCI notation (e.g. "e2e4", "e7e8q").
func (m PackedMove) ToUCI() string {
	files := "abcdefgh"
	ranks := "12345678"
	from := m.From()
	to := m.To()
	uci := string(files[from%8]) + string(ranks[from/8]) + string(files[to%8]) + string(ranks[to/8])
	switch m.Promotion() {
	case PromoQueen:
		uci += "q"
	case PromoRook:
		uci += "r"
	case PromoBishop:
		uci += "b"
	case PromoKnight:
		uci += "n"
	}
	return uci
}
