package bcgn

import (
	"fmt"
	"io"
)

// DefaultWriterBufferSize is the writer's front-buffer target size: once a
// game would overflow it, the buffer is swapped out and flushed
// asynchronously while the next game is serialized into a fresh one (spec
// §4.1.2: "when the next game might not fit, swaps buffers and writes the
// full block asynchronously").
const DefaultWriterBufferSize = 1 << 20 // 1 MiB

// Writer serializes Records into a BCGN file, buffering one block at a time
// and overlapping its write with the next block's assembly.
type Writer struct {
	dst    io.Writer
	Header FileHeader

	bufSize int
	front   []byte

	pendingErr    chan error
	writeInFlight bool

	closed bool
}

// NewWriter writes header to dst and returns a Writer for its records.
func NewWriter(dst io.Writer, header FileHeader) (*Writer, error) {
	return NewWriterSize(dst, header, DefaultWriterBufferSize)
}

// NewWriterSize is NewWriter with an explicit block buffer size.
func NewWriterSize(dst io.Writer, header FileHeader, bufSize int) (*Writer, error) {
	if bufSize < MaxGameLength {
		bufSize = MaxGameLength
	}
	if err := WriteHeader(dst, header); err != nil {
		return nil, err
	}
	return &Writer{
		dst:        dst,
		Header:     header,
		bufSize:    bufSize,
		front:      make([]byte, 0, bufSize),
		pendingErr: make(chan error, 1),
	}, nil
}

// WriteRecord serializes and buffers rec. It returns ErrOversizeRecord if
// rec's serialized size exceeds MaxRecordLength (spec §7: "the writer
// refuses and the caller must split the game").
func (w *Writer) WriteRecord(rec *Record) error {
	encoded, err := rec.Encode(w.Header)
	if err != nil {
		return err
	}
	if len(w.front)+len(encoded) > w.bufSize && len(w.front) > 0 {
		if err := w.swapAndFlush(); err != nil {
			return err
		}
	}
	w.front = append(w.front, encoded...)
	return nil
}

// swapAndFlush reaps any previous async write (endGame's "may block to reap
// the previous async write before swapping buffers", spec §5), then hands
// the current front buffer to a fresh async write and starts a new one.
func (w *Writer) swapAndFlush() error {
	if w.writeInFlight {
		if err := <-w.pendingErr; err != nil {
			return fmt.Errorf("bcgn: write: %w", err)
		}
		w.writeInFlight = false
	}
	block := w.front
	w.front = make([]byte, 0, w.bufSize)
	w.writeInFlight = true
	go func() {
		_, err := w.dst.Write(block)
		w.pendingErr <- err
	}()
	return nil
}

// Flush writes any buffered records, blocking until they reach dst.
func (w *Writer) Flush() error {
	if len(w.front) > 0 {
		if err := w.swapAndFlush(); err != nil {
			return err
		}
	}
	if w.writeInFlight {
		if err := <-w.pendingErr; err != nil {
			return fmt.Errorf("bcgn: write: %w", err)
		}
		w.writeInFlight = false
	}
	return nil
}

// Close flushes remaining buffered records. Matches the spec's "destructor
// flushes" (§4.1.2); callers should always Close a Writer, ignoring a
// redundant second Close.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.Flush()
}
