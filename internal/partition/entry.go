package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/freeeve/posdb/internal/entrykey"
)

// Format selects how a partition's entries pack their count+offset payload
// on disk (spec §3: "Two payload encodings exist").
type Format uint8

const (
	// FormatPacked folds count and offset into one 64-bit word (Pack/Unpack
	// in payload.go). This is the production format: 24 bytes/entry.
	FormatPacked Format = iota
	// FormatUnpacked stores count and offset as two plain 64-bit words.
	// Used by the reference/testing path where exact counts and offsets
	// must round-trip without the packed form's precision trade-off.
	FormatUnpacked
)

// EntrySize returns the fixed on-disk size, in bytes, of one entry under f.
func (f Format) EntrySize() int {
	switch f {
	case FormatPacked:
		return entrykey.KeySize + 8
	case FormatUnpacked:
		return entrykey.KeySize + 16
	default:
		panic(fmt.Sprintf("partition: unknown format %d", f))
	}
}

// Entry is one stored position record: its composite key plus the
// count/first-game-offset payload (spec §3).
type Entry struct {
	Key     entrykey.Key
	Payload Payload
}

// Encode writes e into buf (which must be at least f.EntrySize() bytes)
// under the given format.
func (f Format) Encode(buf []byte, e Entry) {
	e.Key.Encode(buf[:entrykey.KeySize])
	body := buf[entrykey.KeySize:]
	switch f {
	case FormatPacked:
		binary.BigEndian.PutUint64(body[0:8], PackPayload(e.Payload))
	case FormatUnpacked:
		binary.BigEndian.PutUint64(body[0:8], e.Payload.Count)
		offset := e.Payload.Offset
		if !e.Payload.OffsetValid {
			offset = InvalidOffset
		}
		binary.BigEndian.PutUint64(body[8:16], offset)
	default:
		panic(fmt.Sprintf("partition: unknown format %d", f))
	}
}

// Decode reads one entry from buf (which must be at least f.EntrySize()
// bytes) under the given format.
func (f Format) Decode(buf []byte) Entry {
	key := entrykey.DecodeKey(buf[:entrykey.KeySize])
	body := buf[entrykey.KeySize:]
	switch f {
	case FormatPacked:
		return Entry{Key: key, Payload: Unpack(binary.BigEndian.Uint64(body[0:8]))}
	case FormatUnpacked:
		count := binary.BigEndian.Uint64(body[0:8])
		offset := binary.BigEndian.Uint64(body[8:16])
		return Entry{Key: key, Payload: Payload{Count: count, Offset: offset, OffsetValid: offset != InvalidOffset}}
	default:
		panic(fmt.Sprintf("partition: unknown format %d", f))
	}
}

// Comparator orders two entries' keys. Partitions that track continuations
// use Key.Compare; partitions that collapse transpositions use
// Key.CompareIgnoringMove (spec §4.3: "the ordering function of that
// partition (with or without reverse move)").
type Comparator func(a, b entrykey.Key) int

// CompareWithMove is the Comparator for partitions that keep reverse move
// significant (continuation discrimination).
func CompareWithMove(a, b entrykey.Key) int { return a.Compare(b) }

// CompareWithoutMove is the Comparator for partitions that ignore reverse
// move (transposition collapsing / combining).
func CompareWithoutMove(a, b entrykey.Key) int { return a.CompareIgnoringMove(b) }
