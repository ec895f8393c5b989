package bcgn

import (
	"fmt"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/level"
)

// MaxStringLen is the per-string truncation limit (spec §8: "tags are
// truncated to 255 bytes").
const MaxStringLen = 255

// MaxRecordLength is the largest serialized record size the writer accepts
// (spec §7: "Oversize game in writer (record length > 65535 bytes): fatal").
const MaxRecordLength = 65535

// Tag is one additional (name, value) pair beyond the four fixed strings.
type Tag struct {
	Name  string
	Value string
}

// Record is one game as stored in a BCGN file: the fixed header fields, the
// four named strings, any additional tags, and its move sequence (spec
// §4.1.2).
type Record struct {
	Result level.Result

	Year  uint16
	Month uint8
	Day   uint8

	WhiteElo uint16
	BlackElo uint16
	Round    uint16

	ECOCategory uint8 // 0-4 for 'A'-'E'
	ECOIndex    uint8 // 0-99

	HasCustomStart bool
	CustomStart    chess.Packed

	White string
	Black string
	Event string
	Site  string

	AdditionalTags []Tag

	// Moves is the game's move sequence, in order from the start position
	// (or CustomStart, if HasCustomStart).
	Moves []chess.Move
}

// flags bits (spec §4.1.2: "u8 flags (bit 0: has additional tags; bit 1: has
// custom start position)").
const (
	flagHasAdditionalTags = 1 << 0
	flagHasCustomStart    = 1 << 1
)

func truncate(s string) string {
	if len(s) > MaxStringLen {
		return s[:MaxStringLen]
	}
	return s
}

// StartPosition returns the position r's moves are replayed from.
func (r *Record) StartPosition() (*chess.Position, error) {
	if r.HasCustomStart {
		return chess.Unpack(r.CustomStart), nil
	}
	return chess.StartingPosition(), nil
}

// putString appends a u8-length-prefixed string to buf, truncating to
// MaxStringLen first.
func putString(buf []byte, s string) []byte {
	s = truncate(s)
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

// getString reads a u8-length-prefixed string from buf, returning the
// remaining buffer.
func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, fmt.Errorf("bcgn: truncated string length")
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("bcgn: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

// encodePrefix appends r's fixed-width fields, up to and including the
// optional custom start position, to buf (spec §4.1.2's record layout up to
// "optional 24-byte compressed start position"). This part is never
// LZ4-compressed: it is small, fixed-width and needed before a decoder can
// even find the variable block.
func (r *Record) encodePrefix(buf []byte) []byte {
	var tmp [2]byte
	putUint16(tmp[:], packPlyResult(len(r.Moves), uint8(r.Result.Ordinal())))
	buf = append(buf, tmp[:]...)

	putUint16(tmp[:], r.Year)
	buf = append(buf, tmp[:]...)
	buf = append(buf, r.Month, r.Day)

	putUint16(tmp[:], r.WhiteElo)
	buf = append(buf, tmp[:]...)
	putUint16(tmp[:], r.BlackElo)
	buf = append(buf, tmp[:]...)
	putUint16(tmp[:], r.Round)
	buf = append(buf, tmp[:]...)

	buf = append(buf, r.ECOCategory, r.ECOIndex)

	var flags uint8
	if len(r.AdditionalTags) > 0 {
		flags |= flagHasAdditionalTags
	}
	if r.HasCustomStart {
		flags |= flagHasCustomStart
	}
	buf = append(buf, flags)

	if r.HasCustomStart {
		buf = append(buf, chess.PackedBytes(r.CustomStart)...)
	}
	return buf
}

// decodePrefix parses the block written by encodePrefix, returning the
// populated Record (without strings, tags or Moves), whether additional
// tags follow, and the remaining buffer.
func decodePrefix(buf []byte) (r *Record, hasAdditionalTags bool, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, false, nil, fmt.Errorf("bcgn: truncated ply/result field")
	}
	ply, resultOrdinal := unpackPlyResult(getUint16(buf[0:2]))
	buf = buf[2:]
	result, err := level.ResultFromOrdinal(int(resultOrdinal))
	if err != nil {
		return nil, false, nil, fmt.Errorf("bcgn: %w", err)
	}

	if len(buf) < 10 {
		return nil, false, nil, fmt.Errorf("bcgn: truncated date/elo/round fields")
	}
	r = &Record{Result: result, Moves: make([]chess.Move, 0, ply)}
	r.Year = getUint16(buf[0:2])
	r.Month = buf[2]
	r.Day = buf[3]
	r.WhiteElo = getUint16(buf[4:6])
	r.BlackElo = getUint16(buf[6:8])
	r.Round = getUint16(buf[8:10])
	buf = buf[10:]

	if len(buf) < 3 {
		return nil, false, nil, fmt.Errorf("bcgn: truncated eco/flags fields")
	}
	r.ECOCategory = buf[0]
	r.ECOIndex = buf[1]
	flags := buf[2]
	buf = buf[3:]

	if flags&flagHasCustomStart != 0 {
		if len(buf) < chess.PackedSize {
			return nil, false, nil, fmt.Errorf("bcgn: truncated custom start position")
		}
		packed, perr := chess.PackedFromBytes(buf[:chess.PackedSize])
		if perr != nil {
			return nil, false, nil, fmt.Errorf("bcgn: custom start: %w", perr)
		}
		r.HasCustomStart = true
		r.CustomStart = packed
		buf = buf[chess.PackedSize:]
	}

	return r, flags&flagHasAdditionalTags != 0, buf, nil
}

// encodeVariable appends r's four named strings and additional-tag block
// (spec §4.1.2's "four length-prefixed strings ... optional additional-tag
// block") in plain, uncompressed form. Callers wrap this with LZ4 when the
// file header's auxiliary-compression flag is set.
func (r *Record) encodeVariable() []byte {
	var buf []byte
	buf = putString(buf, r.White)
	buf = putString(buf, r.Black)
	buf = putString(buf, r.Event)
	buf = putString(buf, r.Site)

	if len(r.AdditionalTags) > 0 {
		buf = append(buf, byte(len(r.AdditionalTags)))
		for _, t := range r.AdditionalTags {
			buf = putString(buf, t.Name)
			buf = putString(buf, t.Value)
		}
	}
	return buf
}

// decodeVariable parses the plain (already-decompressed, if applicable)
// block written by encodeVariable into r.
func decodeVariable(r *Record, buf []byte, hasAdditionalTags bool) error {
	var err error
	if r.White, buf, err = getString(buf); err != nil {
		return err
	}
	if r.Black, buf, err = getString(buf); err != nil {
		return err
	}
	if r.Event, buf, err = getString(buf); err != nil {
		return err
	}
	if r.Site, buf, err = getString(buf); err != nil {
		return err
	}

	if hasAdditionalTags {
		if len(buf) < 1 {
			return fmt.Errorf("bcgn: truncated additional-tag count")
		}
		count := int(buf[0])
		buf = buf[1:]
		r.AdditionalTags = make([]Tag, 0, count)
		for i := 0; i < count; i++ {
			var name, value string
			if name, buf, err = getString(buf); err != nil {
				return err
			}
			if value, buf, err = getString(buf); err != nil {
				return err
			}
			r.AdditionalTags = append(r.AdditionalTags, Tag{Name: name, Value: value})
		}
	}
	return nil
}

// lengthPrefixSize is the width of the two length words every record opens
// with (spec §4.1.2: "u16 total length (including the two length words),
// u16 header length").
const lengthPrefixSize = 4

// Encode serializes r as one complete length-prefixed BCGN record (spec
// §4.1.2), using header.CompressionLevel for the move text and compressing
// the variable string/tag block with LZ4 when header.AuxCompression is set.
// It fails with an error wrapping ErrOversizeRecord if the result would
// exceed MaxRecordLength (spec §7).
func (r *Record) Encode(header FileHeader) ([]byte, error) {
	start, err := r.StartPosition()
	if err != nil {
		return nil, fmt.Errorf("bcgn: encode: %w", err)
	}
	moveText, err := encodeMoves(start, r.Moves, header.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("bcgn: encode: %w", err)
	}

	body := r.encodePrefix(nil)
	variable := r.encodeVariable()
	if header.AuxCompression {
		compressed, err := compressAux(variable)
		if err != nil {
			return nil, fmt.Errorf("bcgn: encode: %w", err)
		}
		body = append(body, compressed...)
	} else {
		body = append(body, variable...)
	}
	headerLength := len(body)

	total := lengthPrefixSize + headerLength + len(moveText)
	if total > MaxRecordLength {
		return nil, fmt.Errorf("bcgn: encode: record length %d exceeds %d: %w", total, MaxRecordLength, ErrOversizeRecord)
	}

	out := make([]byte, 0, total)
	var tmp [2]byte
	putUint16(tmp[:], uint16(total))
	out = append(out, tmp[:]...)
	putUint16(tmp[:], uint16(headerLength))
	out = append(out, tmp[:]...)
	out = append(out, body...)
	out = append(out, moveText...)
	return out, nil
}

// ErrOversizeRecord is returned by Encode when a game's serialized size
// would exceed MaxRecordLength (spec §7: "the writer refuses and the caller
// must split the game").
var ErrOversizeRecord = fmt.Errorf("bcgn: record exceeds %d bytes", MaxRecordLength)

// DecodeRecord parses one complete length-prefixed record from buf (which
// must hold at least the record's total length), returning the Record and
// the number of bytes consumed.
func DecodeRecord(buf []byte, header FileHeader) (*Record, int, error) {
	if len(buf) < lengthPrefixSize {
		return nil, 0, fmt.Errorf("bcgn: truncated record length prefix")
	}
	total := int(getUint16(buf[0:2]))
	headerLength := int(getUint16(buf[2:4]))
	if len(buf) < total {
		return nil, 0, fmt.Errorf("bcgn: truncated record (want %d bytes, have %d)", total, len(buf))
	}

	body := buf[lengthPrefixSize : lengthPrefixSize+headerLength]
	r, hasTags, rest, err := decodePrefix(body)
	if err != nil {
		return nil, 0, fmt.Errorf("bcgn: decode record: %w", err)
	}

	if header.AuxCompression {
		plain, _, err := decompressAux(rest)
		if err != nil {
			return nil, 0, fmt.Errorf("bcgn: decode record: %w", err)
		}
		rest = plain
	}
	if err := decodeVariable(r, rest, hasTags); err != nil {
		return nil, 0, fmt.Errorf("bcgn: decode record: %w", err)
	}

	start, err := r.StartPosition()
	if err != nil {
		return nil, 0, fmt.Errorf("bcgn: decode record: %w", err)
	}
	ply := cap(r.Moves)
	moveText := buf[lengthPrefixSize+headerLength : total]
	moves, _, err := decodeMoves(start, moveText, ply, header.CompressionLevel)
	if err != nil {
		return nil, 0, fmt.Errorf("bcgn: decode record: %w", err)
	}
	r.Moves = moves

	return r, total, nil
}
