package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/level"
)

// Key identifies a partition by level, result and the hash-modulo bucket it
// groups (spec §4.3: "runs are grouped by (level, result, hash mod bucket
// count)").
type Key struct {
	Level   level.Level
	Result  level.Result
	Bucket  uint32
	WithMove bool
}

// Dir returns the on-disk directory name for k under root.
func (k Key) Dir(root string) string {
	kind := "transposition"
	if k.WithMove {
		kind = "continuation"
	}
	return filepath.Join(root, kind, k.Level.String(), k.Result.String(), fmt.Sprintf("bucket-%04d", k.Bucket))
}

// Partition owns one (level, result, bucket, withMove) group's sorted runs
// and their range indexes (spec glossary: "Partition"). Installed runs are
// immutable; the only mutable state is the run list itself, guarded by mu
// (spec §5: "Writers hold the partition's run-list lock only long enough to
// splice in newly installed runs or retire merged-away ones").
type Partition struct {
	key  Key
	dir  string
	cmp  Comparator
	fmt_ Format
	idxCfg IndexConfig

	mu      sync.RWMutex
	runs    []*Run
	indexes map[uint32]*RangeIndex

	nextID atomic.Uint32

	// mergeFunc performs an external k-way merge of runs into one sorted,
	// deduplicated entry slice, reporting progress as chunks are produced
	// (spec §4.4: "progress is reported per output chunk"). Injected rather
	// than imported directly to avoid a partition<->merge import cycle
	// (internal/merge depends on this package for its
	// RecordIterator/Entry/Comparator types).
	mergeFunc MergeFunc

	cache *QueryCache
	stats *StatsCollector
}

// SetCache installs a query cache; nil disables caching (the default).
func (p *Partition) SetCache(c *QueryCache) { p.cache = c }

// Stats returns the partition's stats collector.
func (p *Partition) Stats() *StatsCollector { return p.stats }

// MergeFunc is the external-merge implementation a partition calls to
// compact runs: merge runs (ordered by cmp), reporting (written, total)
// progress as output accumulates. Implemented by internal/merge.MergeRuns.
type MergeFunc func(runs []*Run, cmp Comparator, progress func(written, total int)) []Entry

// SetMergeFunc installs the external-merge implementation used by Compact,
// MergeAll and ReplicateMergeAll. Wired once at startup from internal/merge
// (spec §4.4).
func (p *Partition) SetMergeFunc(fn MergeFunc) {
	p.mergeFunc = fn
}

func noopProgress(int, int) {}

// Open discovers and loads every run already installed under dir (spec §4.3:
// "Discovery on construction: a partition opened against an existing
// directory loads every run file found there").
func Open(key Key, root string, format Format, idxCfg IndexConfig) (*Partition, error) {
	dir := key.Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("partition: mkdir %s: %w", dir, err)
	}
	cmp := CompareWithoutMove
	if key.WithMove {
		cmp = CompareWithMove
	}
	p := &Partition{
		key:     key,
		dir:     dir,
		cmp:     cmp,
		fmt_:    format,
		idxCfg:  idxCfg,
		indexes: make(map[uint32]*RangeIndex),
		stats:   NewStatsCollector(dir),
	}
	if err := p.stats.LoadMetadata(); err != nil {
		return nil, fmt.Errorf("partition: load metadata %s: %w", dir, err)
	}

	ids, err := discoverRunIDs(dir)
	if err != nil {
		return nil, fmt.Errorf("partition: discover %s: %w", dir, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var maxID uint32
	for _, id := range ids {
		run, err := OpenRun(dir, id, format)
		if err != nil {
			return nil, err
		}
		idx, err := OpenRunIndex(dir, id)
		if err != nil {
			return nil, err
		}
		p.runs = append(p.runs, run)
		p.indexes[id] = idx
		if id > maxID {
			maxID = id
		}
	}
	if len(ids) > 0 {
		p.nextID.Store(maxID + 1)
	}
	return p, nil
}

// Key returns the partition's identity.
func (p *Partition) Key() Key { return p.key }

// Dir returns the partition's directory.
func (p *Partition) Dir() string { return p.dir }

// RunCount returns the number of installed runs.
func (p *Partition) RunCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.runs)
}

// nextRunID allocates a fresh, monotonically increasing run id (spec §4.3:
// "nextId() is max(max installed id, max future id) + 1, or 0 if both are
// empty").
func (p *Partition) nextRunID() uint32 {
	return p.nextID.Add(1) - 1
}

// ReserveIDs atomically reserves n consecutive run ids and returns the
// first one, for callers (the parallel ingest driver, §4.6) that must fix a
// block's destination ids up front so runs stay id-ordered across blocks
// even though sorting may finish out of order (spec §4.3: "Callers may pass
// an explicit id ... but are responsible for ensuring no id collision").
func (p *Partition) ReserveIDs(n int) uint32 {
	if n <= 0 {
		return p.nextID.Load()
	}
	return p.nextID.Add(uint32(n)) - uint32(n)
}

// StoreOrdered installs entries (already sorted ascending by the
// partition's comparator and already deduplicated/combined) as a new run
// (spec §4.5: "the sort worker hands the write worker an ordered,
// combined batch").
func (p *Partition) StoreOrdered(entries []Entry) (*Run, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	return p.StoreOrderedAt(p.nextRunID(), entries)
}

// StoreOrderedAt is StoreOrdered with an explicit, caller-reserved id (spec
// §4.3: storeOrdered/storeUnordered "callers may pass an explicit id").
func (p *Partition) StoreOrderedAt(id uint32, entries []Entry) (*Run, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	run, idx, err := WriteRun(p.dir, id, entries, p.fmt_, p.cmp, p.idxCfg)
	if err != nil {
		return nil, err
	}
	p.install(run, idx)
	return run, nil
}

// StoreUnordered sorts and combines entries, then installs them as a new
// run (spec §4.5: "a sort worker takes one filled buffer, sorts it by the
// partition's comparator, combining payloads for equal keys").
func (p *Partition) StoreUnordered(entries []Entry) (*Run, error) {
	sorted := SortAndCombine(entries, p.cmp)
	return p.StoreOrdered(sorted)
}

// StoreUnorderedAt is StoreUnordered with an explicit, caller-reserved id.
func (p *Partition) StoreUnorderedAt(id uint32, entries []Entry) (*Run, error) {
	sorted := SortAndCombine(entries, p.cmp)
	return p.StoreOrderedAt(id, sorted)
}

// SortAndCombine sorts entries by cmp and combines payloads of adjacent
// equal keys into one entry each.
func SortAndCombine(entries []Entry, cmp Comparator) []Entry {
	if len(entries) == 0 {
		return nil
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	sort.Slice(cp, func(i, j int) bool { return cmp(cp[i].Key, cp[j].Key) < 0 })

	out := cp[:1]
	for _, e := range cp[1:] {
		last := &out[len(out)-1]
		if cmp(last.Key, e.Key) == 0 {
			last.Payload = Combine(last.Payload, e.Payload)
			continue
		}
		out = append(out, e)
	}
	return out
}

// install splices a freshly written run into the run list under mu.
func (p *Partition) install(run *Run, idx *RangeIndex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
	p.indexes[run.ID()] = idx
	if p.cache != nil {
		p.cache.Invalidate()
	}
	if p.stats != nil {
		p.stats.IncrementStores(uint64(run.Count()))
	}
}

// Snapshot returns the current run list and a lookup from run id to its
// range index, safe to use without holding the partition's lock (spec §5:
// "readers never block on the writer; they work from the snapshot taken at
// query start").
func (p *Partition) Snapshot() ([]*Run, map[uint32]*RangeIndex) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	runs := make([]*Run, len(p.runs))
	copy(runs, p.runs)
	indexes := make(map[uint32]*RangeIndex, len(p.indexes))
	for k, v := range p.indexes {
		indexes[k] = v
	}
	return runs, indexes
}

// QueryRanges sums the count of entries matching key across every run in
// the partition's current snapshot, along with the smallest valid
// first-game offset across all matching runs (spec §4.7).
func (p *Partition) QueryRanges(key entrykey.Key) Payload {
	if p.stats != nil {
		p.stats.IncrementQueries()
	}
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			return cached
		}
	}
	runs, indexes := p.Snapshot()
	var total Payload
	first := true
	for _, run := range runs {
		idx := indexes[run.ID()]
		begin, end := run.QueryRange(key, idx, p.cmp)
		if begin >= end {
			continue
		}
		for i := begin; i < end; i++ {
			e := run.EntryAt(i)
			if first {
				total = e.Payload
				first = false
				continue
			}
			total = Combine(total, e.Payload)
		}
	}
	if p.cache != nil {
		p.cache.Put(key, total)
	}
	return total
}

// Compact merges the given runs (by id) into a single new run and retires
// the originals, returning the replacement (nil if the merge produced no
// entries). Picking which runs to compact and when is the caller's
// responsibility (spec §9 background compaction); Compact only performs
// one merge-and-install step.
func (p *Partition) Compact(ids []uint32) (*Run, error) {
	if p.mergeFunc == nil {
		return nil, fmt.Errorf("partition: Compact: no merge function installed")
	}
	runs, _ := p.Snapshot()
	byID := make(map[uint32]*Run, len(runs))
	for _, r := range runs {
		byID[r.ID()] = r
	}
	selected := make([]*Run, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("partition: Compact: run %d not found", id)
		}
		selected = append(selected, r)
	}

	merged := p.mergeFunc(selected, p.cmp, noopProgress)
	if len(merged) == 0 {
		return nil, p.Retire(ids, nil, nil)
	}

	id := p.nextRunID()
	replacement, idx, err := WriteRun(p.dir, id, merged, p.fmt_, p.cmp, p.idxCfg)
	if err != nil {
		return nil, err
	}
	if err := p.Retire(ids, replacement, idx); err != nil {
		return nil, err
	}
	return replacement, nil
}

// MergeAll compacts every installed run into a single new run at a fresh
// id, replacing them (spec §4.3: "mergeAll(progress) compacts all runs into
// a single new run at a fresh id"). progress may be nil.
func (p *Partition) MergeAll(progress func(written, total int)) (*Run, error) {
	runs, _ := p.Snapshot()
	if len(runs) == 0 {
		return nil, nil
	}
	ids := make([]uint32, len(runs))
	for i, r := range runs {
		ids[i] = r.ID()
	}
	if progress == nil {
		progress = noopProgress
	}
	if p.mergeFunc == nil {
		return nil, fmt.Errorf("partition: MergeAll: no merge function installed")
	}
	merged := p.mergeFunc(runs, p.cmp, progress)
	if len(merged) == 0 {
		return nil, p.Retire(ids, nil, nil)
	}
	id := p.nextRunID()
	replacement, idx, err := WriteRun(p.dir, id, merged, p.fmt_, p.cmp, p.idxCfg)
	if err != nil {
		return nil, err
	}
	if err := p.Retire(ids, replacement, idx); err != nil {
		return nil, err
	}
	return replacement, nil
}

// ReplicateMergeAll performs the same merge as MergeAll but writes the
// result into outDir as run id 0, leaving the current partition untouched
// (spec §4.3: "replicateMergeAll(outDir, progress) performs the same merge
// writing into a separate directory, without altering the current
// partition").
func (p *Partition) ReplicateMergeAll(outDir string, progress func(written, total int)) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("partition: ReplicateMergeAll: mkdir %s: %w", outDir, err)
	}
	if p.mergeFunc == nil {
		return fmt.Errorf("partition: ReplicateMergeAll: no merge function installed")
	}
	runs, _ := p.Snapshot()
	if progress == nil {
		progress = noopProgress
	}
	merged := p.mergeFunc(runs, p.cmp, progress)
	if len(merged) == 0 {
		return nil
	}
	_, _, err := WriteRun(outDir, 0, merged, p.fmt_, p.cmp, p.idxCfg)
	return err
}

// Retire replaces the given run ids with a single replacement run (or none,
// if the merge produced no output), used after a background compaction
// merges several runs into one (spec §4.4/§9 background compaction).
func (p *Partition) Retire(oldIDs []uint32, replacement *Run, replacementIdx *RangeIndex) error {
	old := make(map[uint32]bool, len(oldIDs))
	for _, id := range oldIDs {
		old[id] = true
	}

	p.mu.Lock()
	kept := p.runs[:0:0]
	for _, r := range p.runs {
		if !old[r.ID()] {
			kept = append(kept, r)
		}
	}
	if replacement != nil {
		kept = append(kept, replacement)
		p.indexes[replacement.ID()] = replacementIdx
	}
	p.runs = kept
	for id := range old {
		delete(p.indexes, id)
	}
	if p.cache != nil {
		p.cache.Invalidate()
	}
	p.mu.Unlock()

	var firstErr error
	for id := range old {
		if err := os.Remove(runPath(p.dir, id)); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(indexPath(p.dir, id)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
