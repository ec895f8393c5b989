// Package entrykey defines the position-keyed ordering used throughout the
// store: a 128-bit position hash, the packed reverse-move/level/result tag
// that rides in its low bits, and the lexicographic comparators that decide
// run ordering and transposition-vs-continuation queries (spec §3, §4.7).
package entrykey

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/level"
)

// KeySize is the byte width of a Key's wire form: four big-endian uint32
// limbs (spec §3: "Hash space is treated as four ordered 32-bit limbs").
const KeySize = 16

// Key is a position's 128-bit hash, held as four ordered limbs
// (limb[0] most significant). The reverse-move/level/result tag is packed
// into the low 31 bits of limb[3] (spec §3: "occupies the low bits of
// limb 3 so that equal-hash entries with different reverse moves sort
// adjacent"), leaving only that limb's top bit of true hash entropy in
// exchange for tie-break discrimination. Collisions beyond that are accepted: the store
// discriminates positions by hash alone, and castling rights / en-passant
// target are deliberately excluded from what is hashed (spec §9 Open
// Questions), documented behavior, not a bug.
type Key [4]uint32

const (
	tagMoveBits  = chess.PackedMoveBits // 27
	tagMoveMask  = uint32(1)<<tagMoveBits - 1
	tagLevelShift = tagMoveBits
	tagLevelMask  = uint32(0x3) << tagLevelShift
	tagResultShift = tagMoveBits + 2
	tagResultMask  = uint32(0x3) << tagResultShift
	tagBits        = tagMoveBits + 4 // 31: move + level + result
	tagFieldMask   = uint32(1)<<tagBits - 1
)

// NewKey builds a Key from a position hash and a reverse-move/level/result
// tag, overwriting the low tagBits of the hash's last limb with the tag.
func NewKey(hash Hash, move chess.PackedMove, lvl level.Level, res level.Result) Key {
	tag := (uint32(move) & tagMoveMask) |
		(uint32(lvl.Ordinal()) << tagLevelShift) |
		(uint32(res.Ordinal()) << tagResultShift)
	k := Key(hash)
	k[3] = (k[3] &^ tagFieldMask) | tag
	return k
}

// Hash is the raw 128-bit position hash prior to tag packing, used as the
// ordering key's hash-only component and as the value returned from
// HashPosition/HashPacked.
type Hash [4]uint32

// Compare orders two hashes lexicographically, most significant limb first.
func (h Hash) Compare(other Hash) int {
	for i := 0; i < 4; i++ {
		if h[i] < other[i] {
			return -1
		}
		if h[i] > other[i] {
			return 1
		}
	}
	return 0
}

// HashPosition computes the 128-bit position hash from a live position: the
// kernel's packed board encoding (piece placement + side to move) run
// through FNV-1a, split across the four limbs. Two independent FNV streams
// (distinguished by a trailing domain byte) keep the upper and lower halves
// decorrelated.
func HashPosition(pos *chess.Position) Hash {
	return HashPacked(chess.Pack(pos))
}

// HashPacked computes the 128-bit position hash from an already-packed
// position (e.g. one parsed directly from FEN without building a mutable
// Position).
func HashPacked(packed chess.Packed) Hash {
	raw := []byte(packed.String())

	h1 := fnv.New64a()
	_, _ = h1.Write(raw)
	_, _ = h1.Write([]byte{0})
	sum1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write(raw)
	_, _ = h2.Write([]byte{1})
	sum2 := h2.Sum64()

	return Hash{
		uint32(sum1 >> 32), uint32(sum1),
		uint32(sum2 >> 32), uint32(sum2),
	}
}

// Move extracts the packed reverse move from k's tagged limb.
func (k Key) Move() chess.PackedMove { return chess.PackedMove(k[3] & tagMoveMask) }

// Level extracts the level from k's tagged limb.
func (k Key) Level() level.Level {
	l, _ := level.LevelFromOrdinal(int((k[3] & tagLevelMask) >> tagLevelShift))
	return l
}

// Result extracts the result from k's tagged limb.
func (k Key) Result() level.Result {
	r, _ := level.ResultFromOrdinal(int((k[3] & tagResultMask) >> tagResultShift))
	return r
}

// WithoutMove returns a copy of k with the reverse-move bits of the tag
// cleared, used to build a transposition-query key that ignores the
// predecessor move (spec §4.7: "transpositions uses key-without-reverse-move").
func (k Key) WithoutMove() Key {
	k[3] &^= tagMoveMask
	return k
}

// Compare orders keys lexicographically over all four limbs, including the
// tag bits in limb[3]. This is the "with reverse move" ordering a run sorts
// by when its partition tracks continuations.
func (k Key) Compare(other Key) int {
	for i := 0; i < 4; i++ {
		if k[i] < other[i] {
			return -1
		}
		if k[i] > other[i] {
			return 1
		}
	}
	return 0
}

// CompareIgnoringMove orders two keys as if their reverse-move bits were
// equal, used by partitions whose comparator ignores reverse move
// (spec §4.3: "equality ... may ignore the reverse-move field").
func (k Key) CompareIgnoringMove(other Key) int {
	return k.WithoutMove().Compare(other.WithoutMove())
}

// Encode writes k's KeySize-byte wire form to buf, which must be at least
// KeySize bytes.
func (k Key) Encode(buf []byte) {
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], k[i])
	}
}

// DecodeKey reads a KeySize-byte wire form produced by Encode.
func DecodeKey(buf []byte) Key {
	var k Key
	for i := 0; i < 4; i++ {
		k[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return k
}
