// Package pgnreader implements the streaming textual PGN archive reader
// (spec §4.1.1): a refillable byte window that splits an archive into
// UnparsedGame tag/move region pairs without parsing either eagerly, plus a
// lazy position iterator over a game's move region.
package pgnreader

import (
	"bytes"
	"fmt"
	"io"
)

// DefaultBufferSize is the reader's default window size. It must be at
// least as large as the longest single game in the archive; games larger
// than the configured buffer fail with ErrOversizeGame.
const DefaultBufferSize = 1 << 20 // 1 MiB

// ErrOversizeGame is returned when a game's tag or move region does not fit
// within the reader's buffer even after a full refill (spec §4.1.1:
// "if no boundary is found after a full-buffer read, fail with an
// 'oversize game' error").
var ErrOversizeGame = fmt.Errorf("pgnreader: oversize game")

// UnparsedGame holds one game's raw tag and move regions, unparsed. Parsing
// tags and positions is deferred until requested (spec §4.1.1).
type UnparsedGame struct {
	TagRegion  []byte
	MoveRegion []byte
}

// Reader splits an io.Reader into a stream of UnparsedGames using a
// refillable buffer window.
type Reader struct {
	src        io.Reader
	buf        []byte
	start, end int
	eof        bool
}

// NewReader creates a Reader with the default buffer size.
func NewReader(src io.Reader) *Reader {
	return NewReaderSize(src, DefaultBufferSize)
}

// NewReaderSize creates a Reader with an explicit buffer size.
func NewReaderSize(src io.Reader, bufSize int) *Reader {
	if bufSize < 4096 {
		bufSize = 4096
	}
	return &Reader{src: src, buf: make([]byte, bufSize)}
}

// NextGame returns the next game's raw tag and move regions, or io.EOF once
// the archive is exhausted.
func (r *Reader) NextGame() (*UnparsedGame, error) {
	tagRegion, err := r.readRegion()
	if err != nil {
		return nil, err
	}
	moveRegion, err := r.readRegion()
	if err != nil {
		if err == io.EOF {
			// Input ended right after a tag region: return the game with
			// an empty move region rather than losing it.
			if len(tagRegion) > 0 {
				return &UnparsedGame{TagRegion: tagRegion, MoveRegion: nil}, nil
			}
			return nil, io.EOF
		}
		return nil, err
	}
	return &UnparsedGame{TagRegion: tagRegion, MoveRegion: moveRegion}, nil
}

// readRegion returns the bytes up to (not including) the next "\n\n",
// advancing past the delimiter. At end of input with a partial region
// remaining, it returns that region with a nil error and returns io.EOF on
// the following call once the buffer is drained.
func (r *Reader) readRegion() ([]byte, error) {
	for {
		if r.start >= r.end && r.eof {
			return nil, io.EOF
		}
		if idx := bytes.Index(r.buf[r.start:r.end], []byte("\n\n")); idx >= 0 {
			region := append([]byte(nil), r.buf[r.start:r.start+idx]...)
			r.start += idx + 2
			return region, nil
		}
		if r.eof {
			if r.start >= r.end {
				return nil, io.EOF
			}
			region := append([]byte(nil), r.buf[r.start:r.end]...)
			r.start = r.end
			return region, nil
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// fill shifts unconsumed data to the start of the buffer and reads more
// from src, growing the read window. It reports ErrOversizeGame if the
// buffer is already full with no delimiter in sight.
func (r *Reader) fill() error {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:r.end])
		r.end = n
		r.start = 0
	}
	if r.end == len(r.buf) {
		return ErrOversizeGame
	}
	n, err := r.src.Read(r.buf[r.end:])
	r.end += n
	if err != nil {
		if err == io.EOF {
			r.eof = true
			return nil
		}
		return fmt.Errorf("pgnreader: read: %w", err)
	}
	if n == 0 {
		r.eof = true
	}
	return nil
}
