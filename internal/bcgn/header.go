// Package bcgn implements the compact binary game notation reader/writer
// (spec §4.1.2): a 32-byte file header followed by length-prefixed game
// records, with move text encoded either as raw 16-bit move pairs
// (compression level 0) or as a legal-move-index coding relative to the
// position at each ply (compression level 1), and an optional LZ4-compressed
// auxiliary block for the variable-length string/tag fields.
package bcgn

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the four-byte file signature (spec §4.1.2: "magic BCGN").
var Magic = [4]byte{'B', 'C', 'G', 'N'}

// Version is the file format version this package reads and writes.
const Version = 1

// Compression levels (spec §4.1.2, §9 Design Notes).
const (
	// CompressionRaw packs each move as a 16-bit from/to/promotion triple.
	CompressionRaw uint8 = 0
	// CompressionIndex encodes each move as its index into the legal-move
	// set at that ply (8 bits if ≤255 legal moves, else 16 bits).
	CompressionIndex uint8 = 1
)

// HeaderSize is the fixed file header width.
const HeaderSize = 32

// FileHeader is the 32-byte preamble at the start of every BCGN file.
type FileHeader struct {
	Version          uint8
	CompressionLevel uint8
	AuxCompression   bool
}

// Encode writes h's wire form to buf, which must be at least HeaderSize
// bytes. Reserved bytes are zeroed (spec §4.1.2: "other values in reserved
// bytes are invalid").
func (h FileHeader) Encode(buf []byte) {
	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version
	buf[5] = h.CompressionLevel
	if h.AuxCompression {
		buf[6] = 1
	}
}

// DecodeFileHeader parses a HeaderSize-byte buffer produced by Encode.
func DecodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < HeaderSize {
		return FileHeader{}, fmt.Errorf("bcgn: short header (%d bytes)", len(buf))
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		return FileHeader{}, fmt.Errorf("bcgn: bad magic %q", magic)
	}
	level := buf[5]
	if level != CompressionRaw && level != CompressionIndex {
		return FileHeader{}, fmt.Errorf("bcgn: unknown compression level %d", level)
	}
	return FileHeader{
		Version:          buf[4],
		CompressionLevel: level,
		AuxCompression:   buf[6] != 0,
	}, nil
}

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h FileHeader) error {
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("bcgn: write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates a FileHeader from r.
func ReadHeader(r io.Reader) (FileHeader, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FileHeader{}, fmt.Errorf("bcgn: read header: %w", err)
	}
	return DecodeFileHeader(buf[:])
}

// resultBits/plyBits pack the per-game "ply count in top 14 bits, result in
// low 2 bits" u16 field (spec §4.1.2).
const (
	resultBits = 2
	resultMask = uint16(1)<<resultBits - 1
	plyShift   = resultBits
)

func packPlyResult(ply int, result uint8) uint16 {
	return uint16(ply)<<plyShift | uint16(result)&resultMask
}

func unpackPlyResult(v uint16) (ply int, result uint8) {
	return int(v >> plyShift), uint8(v & resultMask)
}

// putUint16/getUint16 are thin aliases kept local so record.go reads as a
// flat sequence of field accesses against the big-endian wire format (spec
// §4.1.2: "All multi-byte integers are big-endian").
var (
	putUint16 = binary.BigEndian.PutUint16
	getUint16 = binary.BigEndian.Uint16
)
