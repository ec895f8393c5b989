package partition

import "math/bits"

// Payload is an entry's count-and-offset value, logically a (count,
// game-offset) pair. The packed on-disk form folds both into one 64-bit
// word (spec §3): 6 bits hold N (1..58), the width of the count field; the
// next N bits hold the count; the remaining 58-N bits hold the game-offset.
// As count grows past what its current field can hold, N is enlarged and
// offset precision is sacrificed; once count needs all 58 remaining bits,
// the offset is lost entirely (InvalidOffset sentinel).
type Payload struct {
	Count  uint64
	Offset uint64
	// OffsetValid is false once Offset has been sacrificed to count growth.
	OffsetValid bool
}

// InvalidOffset is the sentinel returned by Unpack when a payload's word
// holds no recoverable offset because its count consumed the entire
// 58-bit body.
const InvalidOffset = ^uint64(0)

const payloadBodyBits = 58

// bitsNeeded returns the minimum bits required to represent v, at least 1
// (spec: "N (1..58)").
func bitsNeeded(v uint64) int {
	n := bits.Len64(v)
	if n == 0 {
		n = 1
	}
	return n
}

// Pack encodes count and offset into the single-word form. If count alone needs more than
// 58 bits (astronomically unlikely) it is truncated to fit; callers should
// treat that as a practical count ceiling, not a behavior to rely on.
func Pack(count, offset uint64) uint64 {
	n := bitsNeeded(count)
	if n > payloadBodyBits {
		n = payloadBodyBits
		count &= (uint64(1) << n) - 1
	}
	for n < payloadBodyBits {
		offsetBits := payloadBodyBits - n
		if offset < (uint64(1) << offsetBits) {
			break
		}
		n++
	}
	offsetBits := payloadBodyBits - n
	var offField uint64
	if offsetBits > 0 {
		offField = offset & ((uint64(1) << offsetBits) - 1)
	}
	return (uint64(n) << payloadBodyBits) | (count << offsetBits) | offField
}

// Unpack decodes a single-word payload produced by Pack.
func Unpack(word uint64) Payload {
	n := int(word >> payloadBodyBits)
	if n < 1 {
		n = 1
	}
	if n > payloadBodyBits {
		n = payloadBodyBits
	}
	offsetBits := payloadBodyBits - n
	countMask := uint64(1)<<n - 1
	count := (word >> offsetBits) & countMask

	if offsetBits == 0 {
		return Payload{Count: count, Offset: InvalidOffset, OffsetValid: false}
	}
	offsetMask := uint64(1)<<offsetBits - 1
	return Payload{Count: count, Offset: word & offsetMask, OffsetValid: true}
}

// PackPayload is a convenience wrapper around Pack/Unpack for a Payload
// value.
func PackPayload(p Payload) uint64 {
	if !p.OffsetValid {
		// N = 58 leaves no offset field, so Unpack reports InvalidOffset.
		return uint64(payloadBodyBits)<<payloadBodyBits | (p.Count & (uint64(1)<<payloadBodyBits - 1))
	}
	return Pack(p.Count, p.Offset)
}

// Combine merges two payloads for the same key: counts sum, and the
// combined offset keeps the lexicographically smallest valid offset between
// the two (spec §4.4 tie-break: "first-game semantics"). If only one side
// has a valid offset, that offset is kept; if neither does, the result has
// no valid offset either.
func Combine(a, b Payload) Payload {
	out := Payload{Count: a.Count + b.Count}
	switch {
	case a.OffsetValid && b.OffsetValid:
		out.Offset = a.Offset
		if b.Offset < a.Offset {
			out.Offset = b.Offset
		}
		out.OffsetValid = true
	case a.OffsetValid:
		out.Offset = a.Offset
		out.OffsetValid = true
	case b.OffsetValid:
		out.Offset = b.Offset
		out.OffsetValid = true
	default:
		out.OffsetValid = false
	}
	return out
}
