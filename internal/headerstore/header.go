// Package headerstore implements the per-level, append-only game metadata
// log (spec §4.2): a byte log of variable-length header records and a
// parallel 64-bit offset index, addressed by a monotonically assigned
// game-index.
package headerstore

import (
	"encoding/binary"
	"fmt"

	"github.com/freeeve/posdb/internal/level"
)

// MaxStringLen truncates header string fields, matching BCGN's own limit
// (spec §8: "tags are truncated to 255 bytes").
const MaxStringLen = 255

// Header is one game's stored metadata: date, opening classification,
// player names, event, ply count and result (spec §2: "Header store: ...
// record of game metadata (date, opening code, player names, event, ply
// count, result)").
type Header struct {
	White string
	Black string
	Event string
	Site  string

	Year  uint16
	Month uint8
	Day   uint8

	WhiteElo uint16
	BlackElo uint16
	Round    uint16

	ECOCategory uint8
	ECOIndex    uint8

	Ply    int
	Result level.Result
}

func truncate(s string) string {
	if len(s) > MaxStringLen {
		return s[:MaxStringLen]
	}
	return s
}

func putString(buf []byte, s string) []byte {
	s = truncate(s)
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 1 {
		return "", nil, fmt.Errorf("headerstore: truncated string length")
	}
	n := int(buf[0])
	buf = buf[1:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("headerstore: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

// encode serializes h to its wire form (spec §4.2's "variable-length header
// records"; the exact layout is this package's own, since the spec leaves
// the record encoding to the implementation).
func (h Header) encode() []byte {
	var buf []byte
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(h.Ply))
	buf = append(buf, tmp[:]...)
	buf = append(buf, uint8(h.Result.Ordinal()))

	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], h.Year)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, h.Month, h.Day)
	binary.BigEndian.PutUint16(tmp2[:], h.WhiteElo)
	buf = append(buf, tmp2[:]...)
	binary.BigEndian.PutUint16(tmp2[:], h.BlackElo)
	buf = append(buf, tmp2[:]...)
	binary.BigEndian.PutUint16(tmp2[:], h.Round)
	buf = append(buf, tmp2[:]...)
	buf = append(buf, h.ECOCategory, h.ECOIndex)

	buf = putString(buf, h.White)
	buf = putString(buf, h.Black)
	buf = putString(buf, h.Event)
	buf = putString(buf, h.Site)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < 5 {
		return Header{}, fmt.Errorf("headerstore: truncated ply/result field")
	}
	ply := int(binary.BigEndian.Uint32(buf[0:4]))
	resultOrdinal := buf[4]
	buf = buf[5:]
	result, err := level.ResultFromOrdinal(int(resultOrdinal))
	if err != nil {
		return Header{}, fmt.Errorf("headerstore: %w", err)
	}

	if len(buf) < 10 {
		return Header{}, fmt.Errorf("headerstore: truncated date/elo/round fields")
	}
	h := Header{Ply: ply, Result: result}
	h.Year = binary.BigEndian.Uint16(buf[0:2])
	h.Month = buf[2]
	h.Day = buf[3]
	h.WhiteElo = binary.BigEndian.Uint16(buf[4:6])
	h.BlackElo = binary.BigEndian.Uint16(buf[6:8])
	h.Round = binary.BigEndian.Uint16(buf[8:10])
	buf = buf[10:]

	if len(buf) < 2 {
		return Header{}, fmt.Errorf("headerstore: truncated eco fields")
	}
	h.ECOCategory = buf[0]
	h.ECOIndex = buf[1]
	buf = buf[2:]

	var gerr error
	if h.White, buf, gerr = getString(buf); gerr != nil {
		return Header{}, gerr
	}
	if h.Black, buf, gerr = getString(buf); gerr != nil {
		return Header{}, gerr
	}
	if h.Event, buf, gerr = getString(buf); gerr != nil {
		return Header{}, gerr
	}
	if h.Site, _, gerr = getString(buf); gerr != nil {
		return Header{}, gerr
	}
	return h, nil
}
