package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/freeeve/posdb/internal/entrykey"
)

// indexSuffix marks a run's range-index sidecar file, e.g. "<id>_index"
// (spec §6: "<partition-dir>/<id>_index contains the range-index sidecar").
const indexSuffix = "_index"

// Run is one immutable, sorted run file within a partition (spec glossary).
// Once installed it is read without locking: the byte slice is loaded once
// at open and never mutated, matching the teacher's own V13File choice of
// loading a segment fully into memory rather than mmap'ing it.
type Run struct {
	id     uint32
	path   string
	format Format
	data   []byte
	count  int
}

// ID returns the run's 32-bit identifier.
func (r *Run) ID() uint32 { return r.id }

// Path returns the run's file path.
func (r *Run) Path() string { return r.path }

// Count returns the number of entries in the run.
func (r *Run) Count() int { return r.count }

// runPath returns the on-disk path for run id within dir.
func runPath(dir string, id uint32) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(id), 10))
}

// indexPath returns the sidecar index path for run id within dir.
func indexPath(dir string, id uint32) string {
	return runPath(dir, id) + indexSuffix
}

// WriteRun writes entries (which must already be sorted ascending by cmp) to
// dir/<id>, and its range index to dir/<id>_index, returning the opened Run
// and its RangeIndex.
func WriteRun(dir string, id uint32, entries []Entry, format Format, cmp Comparator, cfg IndexConfig) (*Run, *RangeIndex, error) {
	size := format.EntrySize()
	for i := 1; i < len(entries); i++ {
		if cmp(entries[i-1].Key, entries[i].Key) > 0 {
			return nil, nil, fmt.Errorf("partition: WriteRun: entries not sorted at index %d", i)
		}
	}

	buf := make([]byte, len(entries)*size)
	for i, e := range entries {
		format.Encode(buf[i*size:(i+1)*size], e)
	}

	path := runPath(dir, id)
	if err := writeFileAtomic(path, buf); err != nil {
		return nil, nil, fmt.Errorf("partition: write run %d: %w", id, err)
	}

	idx := BuildRangeIndex(entries, cfg)
	if err := writeIndexFile(indexPath(dir, id), idx); err != nil {
		return nil, nil, fmt.Errorf("partition: write run %d index: %w", id, err)
	}

	return &Run{id: id, path: path, format: format, data: buf, count: len(entries)}, idx, nil
}

// OpenRun loads an existing run file from disk.
func OpenRun(dir string, id uint32, format Format) (*Run, error) {
	path := runPath(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("partition: open run %d: %w", id, err)
	}
	size := format.EntrySize()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("partition: run %d: size %d not a multiple of entry size %d", id, len(data), size)
	}
	return &Run{id: id, path: path, format: format, data: data, count: len(data) / size}, nil
}

// OpenRunIndex loads id's range-index sidecar from dir.
func OpenRunIndex(dir string, id uint32) (*RangeIndex, error) {
	return readIndexFile(indexPath(dir, id))
}

// KeyAt decodes only the key portion of the i-th entry (avoiding a payload
// decode on the hot comparison path of range search).
func (r *Run) KeyAt(i int) entrykey.Key {
	size := r.format.EntrySize()
	return entrykey.DecodeKey(r.data[i*size : i*size+entrykey.KeySize])
}

// EntryAt decodes the full i-th entry.
func (r *Run) EntryAt(i int) Entry {
	size := r.format.EntrySize()
	return r.format.Decode(r.data[i*size : (i+1)*size])
}

// Iterator returns a RecordIterator over the run's entries in file order
// (ascending by the partition's comparator, by construction).
func (r *Run) Iterator() RecordIterator {
	return &runIterator{run: r}
}

type runIterator struct {
	run *Run
	pos int
}

func (it *runIterator) Next() *Entry {
	if it.pos >= it.run.count {
		return nil
	}
	e := it.run.EntryAt(it.pos)
	it.pos++
	return &e
}

func (it *runIterator) Peek() *Entry {
	if it.pos >= it.run.count {
		return nil
	}
	e := it.run.EntryAt(it.pos)
	return &e
}

// RecordIterator is the merge-friendly sorted-stream interface a run's
// Iterator and the async pipeline's in-memory slices both satisfy.
type RecordIterator interface {
	Next() *Entry
	Peek() *Entry
}

// SliceIterator adapts a pre-sorted []Entry slice into a RecordIterator.
type SliceIterator struct {
	entries []Entry
	pos     int
}

// NewSliceIterator wraps entries (sorted ascending) as a RecordIterator.
func NewSliceIterator(entries []Entry) *SliceIterator { return &SliceIterator{entries: entries} }

func (s *SliceIterator) Next() *Entry {
	if s.pos >= len(s.entries) {
		return nil
	}
	e := &s.entries[s.pos]
	s.pos++
	return e
}

func (s *SliceIterator) Peek() *Entry {
	if s.pos >= len(s.entries) {
		return nil
	}
	return &s.entries[s.pos]
}

// writeFileAtomic writes data to path via a temp file + rename, matching the
// teacher's flush/stats persistence idiom (internal/store/flush.go,
// internal/store/stats.go).
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// discoverRunIDs scans dir for installed run files: entries whose stem is a
// decimal id and whose name does not contain "index" (spec §4.3
// "Discovery on construction").
func discoverRunIDs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(name, "index") {
			continue
		}
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
