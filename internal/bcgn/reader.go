package bcgn

import (
	"fmt"
	"io"
)

// MaxGameLength bounds a single record's serialized size; the read buffer
// must be at least twice this so one full record is always contiguous in
// the front view after a refill (spec §4.1.2: "the read buffer size must be
// ≥ 2 × maxGameLength").
const MaxGameLength = MaxRecordLength

// DefaultReaderBufferSize is the reader's default double-buffer half-size.
const DefaultReaderBufferSize = 2 * MaxGameLength

// Reader streams Records out of a BCGN file using a double buffer: while
// the caller consumes the front half, a background goroutine fills the back
// half from src, so the next Decode rarely blocks on I/O (spec §4.1.2:
// "a back buffer filled by an async read while the front buffer is
// consumed").
type Reader struct {
	src    io.Reader
	Header FileHeader

	front    []byte
	frontLen int
	pos      int

	fillResult chan fillResult
	eof        bool
}

type fillResult struct {
	buf []byte
	n   int
	err error
}

// NewReader reads and validates the file header from src, then returns a
// Reader over its records.
func NewReader(src io.Reader) (*Reader, error) {
	return NewReaderSize(src, DefaultReaderBufferSize)
}

// NewReaderSize is NewReader with an explicit double-buffer half-size.
func NewReaderSize(src io.Reader, halfSize int) (*Reader, error) {
	if halfSize < MaxGameLength {
		halfSize = MaxGameLength
	}
	header, err := ReadHeader(src)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		src:        src,
		Header:     header,
		front:      make([]byte, halfSize),
		fillResult: make(chan fillResult, 1),
	}
	r.startFill(halfSize)
	return r, nil
}

// startFill launches the async read that produces the next back buffer.
func (r *Reader) startFill(size int) {
	go func() {
		buf := make([]byte, size)
		n, err := io.ReadFull(r.src, buf)
		if err == io.ErrUnexpectedEOF {
			err = nil // partial final read is fine; n reflects what was read
		}
		r.fillResult <- fillResult{buf: buf, n: n, err: err}
	}()
}

// refill shifts the unconsumed suffix of front to its start, waits for the
// in-flight async fill, appends it, and kicks off the next fill.
func (r *Reader) refill() error {
	if r.eof {
		return nil
	}
	unconsumed := r.frontLen - r.pos
	copy(r.front, r.front[r.pos:r.frontLen])

	res := <-r.fillResult
	if res.err != nil && res.err != io.EOF {
		return fmt.Errorf("bcgn: refill: %w", res.err)
	}
	r.front = append(r.front[:unconsumed], res.buf[:res.n]...)
	r.frontLen = len(r.front)
	r.pos = 0

	if res.n < len(res.buf) {
		r.eof = true
	} else {
		r.startFill(len(res.buf))
	}
	return nil
}

// NextRecord returns the next record, or io.EOF once the file is exhausted.
func (r *Reader) NextRecord() (*Record, error) {
	for {
		if r.frontLen-r.pos >= lengthPrefixSize {
			total := int(getUint16(r.front[r.pos : r.pos+2]))
			if r.frontLen-r.pos >= total {
				rec, n, err := DecodeRecord(r.front[r.pos:r.frontLen], r.Header)
				if err != nil {
					return nil, err
				}
				r.pos += n
				return rec, nil
			}
		}
		if r.eof {
			if r.frontLen-r.pos == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("bcgn: %w", ErrTruncatedRecord)
		}
		if err := r.refill(); err != nil {
			return nil, err
		}
	}
}

// ErrTruncatedRecord is returned when the file ends mid-record.
var ErrTruncatedRecord = fmt.Errorf("bcgn: truncated final record")

// ReadAll drains every remaining record from r, in order.
func (r *Reader) ReadAll() ([]*Record, error) {
	var out []*Record
	for {
		rec, err := r.NextRecord()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
