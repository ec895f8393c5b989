package db

import (
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
)

// minBufferEntries bounds how small a memory budget is allowed to shrink a
// per-destination buffer to; below this the per-buffer flush overhead
// dominates and ingest makes no progress (a block's index pre-reservation
// assumes buffers of a sane minimum size too, see internal/ingest/block.go).
const minBufferEntries = 64

// ImportOptionsForMemory derives an ingest.Options whose BufferSize spends
// memoryBytes evenly across every destination buffer a block's worker set
// holds open at once (spec §4.8: "routing imports to the ingest driver
// with the correct memory split"; spec §4.6: "Acquire one buffer per
// destination partition").
//
// One worker holds len(level.Results()) results × 2 withMove families ×
// d.opts.Buckets destination buffers open simultaneously, and up to
// threads workers run concurrently, so the total number of live buffers is
// threads × that per-worker count.
func (d *DB) ImportOptionsForMemory(threads int, memoryBytes int64) ingest.Options {
	if threads < 1 {
		threads = 1
	}
	destinationsPerWorker := int64(len(level.Results())) * 2 * int64(d.opts.Buckets)
	entrySize := int64(d.opts.Format.EntrySize())

	bufferEntries := minBufferEntries
	if destinationsPerWorker > 0 && entrySize > 0 {
		perBuffer := memoryBytes / (int64(threads) * destinationsPerWorker * entrySize)
		if perBuffer > int64(minBufferEntries) {
			bufferEntries = int(perBuffer)
		}
	}

	opts := ingest.DefaultOptions
	opts.Threads = threads
	opts.BufferSize = bufferEntries
	opts.Buckets = d.opts.Buckets
	opts.ECO = d.opts.ECO
	return opts
}
