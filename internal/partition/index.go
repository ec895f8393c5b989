package partition

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/freeeve/posdb/internal/entrykey"
)

// IndexConfig controls how densely a RangeIndex samples its run (spec §4.3:
// "a sparse range index, sampling roughly one entry in every SampleEvery").
type IndexConfig struct {
	SampleEvery int
}

// DefaultIndexConfig samples about one entry in 1024, the density the spec's
// design notes call out as the default working point between index size and
// search fan-in.
var DefaultIndexConfig = IndexConfig{SampleEvery: 1024}

// IndexSample is one sparse sample: a key and the position of the entry
// bearing it in the run.
type IndexSample struct {
	Key entrykey.Key
	Pos uint64
}

// RangeIndex is a run's sparse sidecar: an ascending array of samples such
// that any key's true position in the run lies within the span bounded by
// the two samples bracketing it (spec §4.7: "queryRanges interpolates a
// bracketing pair of samples, then binary-searches the bounded span").
type RangeIndex struct {
	samples []IndexSample
}

// BuildRangeIndex samples entries (already sorted ascending) at cfg's
// density. The first and last entries are always sampled so that every key
// in the run falls within the sampled span, even when the run is smaller
// than the sampling interval.
func BuildRangeIndex(entries []Entry, cfg IndexConfig) *RangeIndex {
	every := cfg.SampleEvery
	if every < 1 {
		every = 1
	}
	if len(entries) == 0 {
		return &RangeIndex{}
	}
	samples := make([]IndexSample, 0, len(entries)/every+2)
	for i := 0; i < len(entries); i += every {
		samples = append(samples, IndexSample{Key: entries[i].Key, Pos: uint64(i)})
	}
	last := uint64(len(entries) - 1)
	if samples[len(samples)-1].Pos != last {
		samples = append(samples, IndexSample{Key: entries[len(entries)-1].Key, Pos: last})
	}
	return &RangeIndex{samples: samples}
}

// Empty reports whether the index carries no samples (an empty run).
func (idx *RangeIndex) Empty() bool { return idx == nil || len(idx.samples) == 0 }

// Bracket returns the run-position span [lo, hi] guaranteed to contain every
// entry comparing equal to key under cmp: the positions of the two adjacent
// samples that bracket key, or the single position of the first (last)
// sample if key compares at or below (at or above) it.
func (idx *RangeIndex) Bracket(key entrykey.Key, cmp Comparator) (lo, hi uint64) {
	if idx.Empty() {
		return 0, 0
	}
	s := idx.samples
	if cmp(key, s[0].Key) <= 0 {
		return s[0].Pos, s[0].Pos
	}
	if cmp(key, s[len(s)-1].Key) >= 0 {
		return s[len(s)-1].Pos, s[len(s)-1].Pos
	}
	// Binary search for the last sample whose key is <= key: this and the
	// following sample bracket every entry equal to key. A true
	// interpolation probe (using the fractional distance between the
	// bracket's own keys) narrows the initial guess in the common case
	// where samples are evenly spaced; the binary search below still
	// guarantees correctness regardless of how skewed the hash keys are.
	loIdx, hiIdx := 0, len(s)-1
	guess := interpolateGuess(key, s, cmp)
	if guess > loIdx && guess < hiIdx {
		if cmp(key, s[guess].Key) < 0 {
			hiIdx = guess
		} else {
			loIdx = guess
		}
	}
	for loIdx+1 < hiIdx {
		mid := (loIdx + hiIdx) / 2
		if cmp(s[mid].Key, key) <= 0 {
			loIdx = mid
		} else {
			hiIdx = mid
		}
	}
	return s[loIdx].Pos, s[hiIdx].Pos
}

// interpolateGuess estimates where key would fall among s using the most
// significant hash limb as a proxy numeric axis. It is only ever used to
// seed the binary search above, so a poor estimate costs a few extra
// comparisons, never correctness.
func interpolateGuess(key entrykey.Key, s []IndexSample, cmp Comparator) int {
	lo, hi := s[0], s[len(s)-1]
	loAxis := axisValue(lo.Key)
	hiAxis := axisValue(hi.Key)
	if hiAxis <= loAxis {
		return -1
	}
	keyAxis := axisValue(key)
	if keyAxis <= loAxis || keyAxis >= hiAxis {
		return -1
	}
	frac := float64(keyAxis-loAxis) / float64(hiAxis-loAxis)
	return int(frac * float64(len(s)-1))
}

func axisValue(k entrykey.Key) uint64 {
	return uint64(k[0])<<32 | uint64(k[1])
}

// QueryRange finds the contiguous span [begin, end) of positions in r whose
// entries compare equal to key under cmp, using idx to bound the search
// (spec §4.7: "sum counts over [begin,end) across every run in the
// partition").
func (r *Run) QueryRange(key entrykey.Key, idx *RangeIndex, cmp Comparator) (begin, end int) {
	if r.count == 0 || idx.Empty() {
		return 0, 0
	}
	lo, hi := idx.Bracket(key, cmp)
	loIdx, hiIdx := int(lo), int(hi)
	if hiIdx >= r.count {
		hiIdx = r.count - 1
	}
	begin = r.lowerBound(loIdx, hiIdx+1, key, cmp)
	end = r.upperBound(begin, hiIdx+1, key, cmp)
	return begin, end
}

// lowerBound returns the first position in [lo, hi) whose key is >= key.
func (r *Run) lowerBound(lo, hi int, key entrykey.Key, cmp Comparator) int {
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(r.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the first position in [lo, hi) whose key is > key.
func (r *Run) upperBound(lo, hi int, key entrykey.Key, cmp Comparator) int {
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(r.KeyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// indexMagic tags a range-index sidecar file for a cheap sanity check on
// open (spec §7: "corrupted sidecars are detected, never silently trusted").
const indexMagic = uint32(0x50584449) // "PXDI"

func writeIndexFile(path string, idx *RangeIndex) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], indexMagic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(idx.samples)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return err
	}
	var buf [entrykey.KeySize + 8]byte
	for _, s := range idx.samples {
		s.Key.Encode(buf[:entrykey.KeySize])
		binary.BigEndian.PutUint64(buf[entrykey.KeySize:], s.Pos)
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(path+".tmp", path)
}

func readIndexFile(path string) (*RangeIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("partition: read index %s: %w", path, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("partition: index %s: truncated header", path)
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != indexMagic {
		return nil, fmt.Errorf("partition: index %s: bad magic %x", path, magic)
	}
	count := int(binary.BigEndian.Uint32(data[4:8]))
	entrySize := entrykey.KeySize + 8
	want := 8 + count*entrySize
	if len(data) != want {
		return nil, fmt.Errorf("partition: index %s: size %d, want %d for %d samples", path, len(data), want, count)
	}
	samples := make([]IndexSample, count)
	off := 8
	for i := 0; i < count; i++ {
		key := entrykey.DecodeKey(data[off : off+entrykey.KeySize])
		pos := binary.BigEndian.Uint64(data[off+entrykey.KeySize : off+entrySize])
		samples[i] = IndexSample{Key: key, Pos: pos}
		off += entrySize
	}
	return &RangeIndex{samples: samples}, nil
}
