// Package socket implements the thin request/response wrapper spec §6
// describes: an 8-byte length+XOR-verified frame around a JSON body, and a
// dispatcher for the create/merge/open/close/query/stats/dump/exit command
// set.
package socket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frameXORKey is the constant every length prefix is XORed with for
// verification (spec §6: "the same S XORed with the constant 3173045653").
const frameXORKey uint32 = 3173045653

// maxFrameSize bounds a single message body to guard against a corrupt or
// hostile length prefix causing an unbounded allocation.
const maxFrameSize = 64 << 20

// ErrFrameCheckFailed is returned when a frame's length and its XOR-check
// word disagree; the caller must close the connection (spec §6: "if
// mismatched the connection is closed").
var ErrFrameCheckFailed = fmt.Errorf("socket: frame length check failed")

// ErrFrameTooLarge is returned when a frame declares a body larger than
// maxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("socket: frame exceeds maximum size")

// ReadFrame reads one length-prefixed, XOR-verified message body from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	check := binary.LittleEndian.Uint32(header[4:8])
	if check != length^frameXORKey {
		return nil, ErrFrameCheckFailed
	}
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed, XOR-verified message.
func WriteFrame(w io.Writer, body []byte) error {
	var header [8]byte
	length := uint32(len(body))
	binary.LittleEndian.PutUint32(header[0:4], length)
	binary.LittleEndian.PutUint32(header[4:8], length^frameXORKey)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
