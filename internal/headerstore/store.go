package headerstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	logFileName = "headers.log"
	idxFileName = "headers.idx"

	lengthPrefixSize = 4
	checksumSize     = 8
	offsetEntrySize  = 8
)

// Store is one game level's append-only header log: a byte log of
// length-prefixed, checksummed header records and a parallel 64-bit offset
// index (spec §4.2). Every addGame is atomic under mu; queries are random
// reads by index that take mu only to read the current count.
type Store struct {
	dir string

	mu      sync.Mutex
	logFile *os.File
	idxFile *os.File
	logSize int64
	count   uint64
}

// Open opens (creating if necessary) the header store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("headerstore: mkdir %s: %w", dir, err)
	}
	logFile, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("headerstore: open log: %w", err)
	}
	idxFile, err := os.OpenFile(filepath.Join(dir, idxFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("headerstore: open index: %w", err)
	}

	logInfo, err := logFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("headerstore: stat log: %w", err)
	}
	idxInfo, err := idxFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("headerstore: stat index: %w", err)
	}
	if idxInfo.Size()%offsetEntrySize != 0 {
		return nil, fmt.Errorf("headerstore: corrupt index file %s: size %d not a multiple of %d", idxFile.Name(), idxInfo.Size(), offsetEntrySize)
	}

	return &Store{
		dir:     dir,
		logFile: logFile,
		idxFile: idxFile,
		logSize: logInfo.Size(),
		count:   uint64(idxInfo.Size() / offsetEntrySize),
	}, nil
}

// Count returns the number of games stored so far.
func (s *Store) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// AddGame atomically appends h's serialized bytes to the byte log, then
// appends the pre-append byte offset to the index, and returns the new
// game-index (spec §4.2: "addGame ... appends the bytes, then appends the
// pre-append byte count as the new offset, and returns the new index").
func (s *Store) AddGame(h Header) (uint64, error) {
	payload := h.encode()

	record := make([]byte, 0, lengthPrefixSize+len(payload)+checksumSize)
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	record = append(record, lenBuf[:]...)
	record = append(record, payload...)
	var sumBuf [checksumSize]byte
	binary.BigEndian.PutUint64(sumBuf[:], xxhash.Sum64(payload))
	record = append(record, sumBuf[:]...)

	s.mu.Lock()
	defer s.mu.Unlock()

	preAppendOffset := s.logSize
	if _, err := s.logFile.Write(record); err != nil {
		return 0, fmt.Errorf("headerstore: append record: %w", err)
	}
	s.logSize += int64(len(record))

	var offBuf [offsetEntrySize]byte
	binary.BigEndian.PutUint64(offBuf[:], uint64(preAppendOffset))
	if _, err := s.idxFile.Write(offBuf[:]); err != nil {
		return 0, fmt.Errorf("headerstore: append offset: %w", err)
	}

	index := s.count
	s.count++
	return index, nil
}

// Query returns the deserialized headers for indices, in the same order
// (spec §4.2: "Query takes an ordered set of indices and returns the
// deserialized headers ... in the same order").
func (s *Store) Query(indices []uint64) ([]Header, error) {
	out := make([]Header, len(indices))
	for i, idx := range indices {
		h, err := s.readAt(idx)
		if err != nil {
			return nil, fmt.Errorf("headerstore: query index %d: %w", idx, err)
		}
		out[i] = h
	}
	return out, nil
}

// readAt seeks to idx's offset and reads the deserialized header record,
// verifying its checksum.
func (s *Store) readAt(idx uint64) (Header, error) {
	if idx >= s.Count() {
		return Header{}, fmt.Errorf("game-index %d out of range (%d stored)", idx, s.Count())
	}

	var offBuf [offsetEntrySize]byte
	if _, err := s.idxFile.ReadAt(offBuf[:], int64(idx)*offsetEntrySize); err != nil {
		return Header{}, fmt.Errorf("read offset: %w", err)
	}
	offset := int64(binary.BigEndian.Uint64(offBuf[:]))

	var lenBuf [lengthPrefixSize]byte
	if _, err := s.logFile.ReadAt(lenBuf[:], offset); err != nil {
		return Header{}, fmt.Errorf("read length prefix: %w", err)
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])

	rest := make([]byte, int(payloadLen)+checksumSize)
	if _, err := s.logFile.ReadAt(rest, offset+lengthPrefixSize); err != nil {
		return Header{}, fmt.Errorf("read record body: %w", err)
	}
	payload := rest[:payloadLen]
	wantSum := binary.BigEndian.Uint64(rest[payloadLen:])
	if gotSum := xxhash.Sum64(payload); gotSum != wantSum {
		return Header{}, fmt.Errorf("checksum mismatch (record corrupt)")
	}

	return decodeHeader(payload)
}

// ReplicateInto copies this store's committed records into dir as a new
// header store, for callers that replicate a whole database into a
// separate directory (spec §4.8's replicateMergeAll). A level's header
// store is never split across files, so replicating it is a straight copy
// of its log and index up to the currently committed size, not a merge.
func (s *Store) ReplicateInto(dir string) error {
	s.mu.Lock()
	logSize := s.logSize
	idxSize := int64(s.count) * offsetEntrySize
	s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("headerstore: replicate mkdir %s: %w", dir, err)
	}
	if err := copyFilePrefix(filepath.Join(s.dir, logFileName), filepath.Join(dir, logFileName), logSize); err != nil {
		return fmt.Errorf("headerstore: replicate log: %w", err)
	}
	if err := copyFilePrefix(filepath.Join(s.dir, idxFileName), filepath.Join(dir, idxFileName), idxSize); err != nil {
		return fmt.Errorf("headerstore: replicate index: %w", err)
	}
	return nil
}

// copyFilePrefix copies the first n bytes of src into a freshly created
// dst, so a store still receiving appends from another handle never leaks
// a partially-written trailing record into the replica.
func copyFilePrefix(src, dst string, n int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, in, n); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Close closes the store's underlying files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.logFile.Close()
	err2 := s.idxFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

var _ io.Closer = (*Store)(nil)
