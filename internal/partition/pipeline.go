package partition

import (
	"sync"
)

// IDAllocator returns the run id to assign to the next buffer a Pipeline
// hands off for sorting. Ingest blocks (internal/ingest) supply one backed
// by a pre-reserved id range, so runs stay id-ordered across blocks even
// though sort workers may finish out of order (spec §4.6).
type IDAllocator func() uint32

// Pipeline is the async store path described in spec §4.5: callers append
// entries to a shared buffer; when it fills, a sort worker sorts and
// combines it, then hands the result to a single write worker that installs
// it at the id the caller's allocator assigned at hand-off time. Sort
// workers may finish out of order, which is why the write worker installs
// by id rather than by arrival order (spec §5: "consumers must treat id,
// not scheduling time, as the ordering authority").
type Pipeline struct {
	target *Partition
	nextID IDAllocator

	bufSize int
	mu      sync.Mutex
	current []Entry

	sortSem chan struct{} // bounds concurrent sort workers
	sortWG  sync.WaitGroup

	writeCh   chan idBatch
	writeDone chan error

	firstErr   error
	firstErrMu sync.Mutex

	closeOnce sync.Once
}

// idBatch is one sorted buffer awaiting installation at a fixed id.
type idBatch struct {
	id      uint32
	entries []Entry
}

// PipelineConfig controls buffering and worker fan-out.
type PipelineConfig struct {
	// BufferSize is the number of entries accumulated before a buffer is
	// handed to a sort worker.
	BufferSize int
	// SortWorkers bounds how many buffers may be sorting concurrently.
	SortWorkers int
}

// DefaultPipelineConfig matches the spec's stated defaults (§4.5).
var DefaultPipelineConfig = PipelineConfig{BufferSize: 65536, SortWorkers: 4}

// NewPipeline starts a pipeline writing installed runs into target. nextID
// is called once per buffer, exactly when that buffer is handed off to a
// sort worker, so the caller's allocator sees ids requested in the same
// order buffers fill (spec §4.6 step 3: "submit it to the async pipeline at
// the next pre-reserved id for that bucket, and acquire a fresh one").
func NewPipeline(target *Partition, nextID IDAllocator, cfg PipelineConfig) *Pipeline {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultPipelineConfig.BufferSize
	}
	if cfg.SortWorkers < 1 {
		cfg.SortWorkers = DefaultPipelineConfig.SortWorkers
	}

	p := &Pipeline{
		target:    target,
		nextID:    nextID,
		bufSize:   cfg.BufferSize,
		current:   make([]Entry, 0, cfg.BufferSize),
		sortSem:   make(chan struct{}, cfg.SortWorkers),
		writeCh:   make(chan idBatch, cfg.SortWorkers),
		writeDone: make(chan error, 1),
	}

	go p.writeWorker()

	return p
}

// Add appends entries to the current buffer, flushing full buffers to a
// sort worker as needed.
func (p *Pipeline) Add(entries ...Entry) {
	p.mu.Lock()
	for _, e := range entries {
		p.current = append(p.current, e)
		if len(p.current) >= p.bufSize {
			full := p.current
			p.current = make([]Entry, 0, p.bufSize)
			p.spawnSort(p.nextID(), full)
		}
	}
	p.mu.Unlock()
}

// recordErr remembers the first error seen by any worker.
func (p *Pipeline) recordErr(err error) {
	if err == nil {
		return
	}
	p.firstErrMu.Lock()
	if p.firstErr == nil {
		p.firstErr = err
	}
	p.firstErrMu.Unlock()
}

// spawnSort launches a sort worker for one filled buffer, bounded by
// sortSem so at most SortWorkers run at once. id is fixed now, before the
// sort even starts, so it is unaffected by the order sort workers finish.
func (p *Pipeline) spawnSort(id uint32, buf []Entry) {
	p.sortWG.Add(1)
	p.sortSem <- struct{}{}
	go func() {
		defer p.sortWG.Done()
		defer func() { <-p.sortSem }()
		sorted := SortAndCombine(buf, p.target.cmp)
		p.writeCh <- idBatch{id: id, entries: sorted}
	}()
}

// writeWorker is the single serialized installer: it takes sorted, combined
// batches off writeCh and installs each at its assigned id, regardless of
// receive order, until writeCh is closed by Close.
func (p *Pipeline) writeWorker() {
	var err error
	for batch := range p.writeCh {
		if _, werr := p.target.StoreOrderedAt(batch.id, batch.entries); werr != nil {
			err = werr
			break
		}
	}
	// Drain any remaining batches so senders never block after an error.
	for range p.writeCh {
	}
	p.writeDone <- err
}

// Flush drains any partial buffer into a final run, assigning it to a sort
// worker like any other full batch. Call before Close on graceful shutdown
// (spec §5: "a clean shutdown flushes every partial buffer before closing
// its files").
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if len(p.current) > 0 {
		full := p.current
		p.current = make([]Entry, 0, p.bufSize)
		p.spawnSort(p.nextID(), full)
	}
	p.mu.Unlock()
}

// Close flushes remaining work, waits for every sort worker to hand off its
// batch, then stops the write worker and waits for it to finish installing
// everything already queued.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.Flush()
		p.sortWG.Wait()
		close(p.writeCh)
		if err := <-p.writeDone; err != nil {
			p.recordErr(err)
		}
	})
	p.firstErrMu.Lock()
	defer p.firstErrMu.Unlock()
	return p.firstErr
}
