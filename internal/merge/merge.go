// Package merge implements the k-way external merge used to compact a
// partition's sorted runs into one (spec §4.4): a min-heap over the runs'
// iterators, combining payloads whenever two runs agree on a key.
package merge

import (
	"container/heap"

	"github.com/freeeve/posdb/internal/partition"
)

// heapItem pairs a source iterator with its current head record.
type heapItem struct {
	iter    partition.RecordIterator
	current *partition.Entry
	index   int // source run index; lower wins ties so equal keys pop in run order
}

type mergeHeap struct {
	items []*heapItem
	cmp   partition.Comparator
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].current.Key, h.items[j].current.Key)
	if c != 0 {
		return c < 0
	}
	return h.items[i].index < h.items[j].index
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(*heapItem)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// KWayMergeIterator merges several sorted RecordIterators into one sorted,
// deduplicated stream, combining payloads for entries whose keys compare
// equal under cmp (spec §4.4: "merged output never contains two entries
// with the same key").
type KWayMergeIterator struct {
	heap mergeHeap
	cmp  partition.Comparator
}

// NewKWayMergeIterator builds a merge iterator over iters, ordered by cmp.
func NewKWayMergeIterator(iters []partition.RecordIterator, cmp partition.Comparator) *KWayMergeIterator {
	h := mergeHeap{items: make([]*heapItem, 0, len(iters)), cmp: cmp}
	for i, it := range iters {
		if rec := it.Next(); rec != nil {
			h.items = append(h.items, &heapItem{iter: it, current: rec, index: i})
		}
	}
	heap.Init(&h)
	return &KWayMergeIterator{heap: h, cmp: cmp}
}

// Next returns the next merged entry, or nil once every source is exhausted.
func (m *KWayMergeIterator) Next() *partition.Entry {
	for m.heap.Len() > 0 {
		item := heap.Pop(&m.heap).(*heapItem)
		entry := *item.current

		if next := item.iter.Next(); next != nil {
			item.current = next
			heap.Push(&m.heap, item)
		}

		for m.heap.Len() > 0 && m.cmp(m.heap.items[0].current.Key, entry.Key) == 0 {
			other := heap.Pop(&m.heap).(*heapItem)
			entry.Payload = partition.Combine(entry.Payload, other.current.Payload)
			if next := other.iter.Next(); next != nil {
				other.current = next
				heap.Push(&m.heap, other)
			}
		}

		return &entry
	}
	return nil
}

// Drain runs the merge to completion, returning every merged entry in
// order, holding the whole merged output in memory.
func Drain(m *KWayMergeIterator) []partition.Entry {
	var out []partition.Entry
	for e := m.Next(); e != nil; e = m.Next() {
		out = append(out, *e)
	}
	return out
}

// progressChunk is how many merged entries accumulate between progress
// callback invocations (spec §4.4: "progress is reported per output
// chunk").
const progressChunk = 4096

// MergeRuns performs a full external merge of runs into one sorted,
// deduplicated slice of entries ordered by cmp, reporting (written, total
// source entries) progress every progressChunk output entries and once
// more at completion. Matches partition.MergeFunc's signature so it can be
// installed directly via Partition.SetMergeFunc.
func MergeRuns(runs []*partition.Run, cmp partition.Comparator, progress func(written, total int)) []partition.Entry {
	if progress == nil {
		progress = func(int, int) {}
	}
	total := 0
	for _, r := range runs {
		total += r.Count()
	}

	iters := make([]partition.RecordIterator, len(runs))
	for i, r := range runs {
		iters[i] = r.Iterator()
	}

	m := NewKWayMergeIterator(iters, cmp)
	var out []partition.Entry
	written := 0
	for e := m.Next(); e != nil; e = m.Next() {
		out = append(out, *e)
		written++
		if written%progressChunk == 0 {
			progress(written, total)
		}
	}
	progress(written, total)
	return out
}
