// Package ingest implements the parallel archive ingest driver (spec §4.6):
// it groups archives by game level, divides each level's archives into
// byte-balanced blocks, and runs one worker per block that reads games,
// records their headers, and appends their positions' entries into the
// right partitions.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/posdb/internal/eco"
	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/partition"
)

// Archive is one input archive and the game level its contents should be
// recorded under (spec §4.6: "a list of (archive-path, game-level) pairs").
type Archive struct {
	Path  string
	Level level.Level
}

// Options configures one ingest run.
type Options struct {
	// Threads bounds the number of blocks processed concurrently (spec §5:
	// "a small fixed set of OS threads").
	Threads int
	// BufferSize is the number of entries accumulated per partition before
	// it is handed to the store as one run.
	BufferSize int
	// Buckets is the number of hash buckets positions are classified into
	// per (level, result). P = 1 (spec §4.6) unless the caller opts into a
	// multi-bucket layout.
	Buckets uint32
	// MinPGNBytesPerMove approximates how many archive bytes one move
	// consumes, used to size per-block id pre-reservation (spec §4.6:
	// "given minPgnBytesPerMove = 4").
	MinPGNBytesPerMove int
	// ECO optionally classifies each game's opening; nil disables
	// classification (header ECO fields are left zero/unclassified).
	ECO *eco.Database
	// Logger receives one entry per archive at the start of its read,
	// naming its path and an xxhash64 fingerprint of its first 64KiB. The
	// zero value discards everything, matching internal/db.Options.Logger.
	Logger zerolog.Logger
}

// DefaultOptions mirrors the spec's stated constants.
var DefaultOptions = Options{
	Threads:            4,
	BufferSize:         65536,
	Buckets:            1,
	MinPGNBytesPerMove: 4,
}

func (o Options) withDefaults() Options {
	if o.Threads < 1 {
		o.Threads = DefaultOptions.Threads
	}
	if o.BufferSize < 1 {
		o.BufferSize = DefaultOptions.BufferSize
	}
	if o.Buckets < 1 {
		o.Buckets = DefaultOptions.Buckets
	}
	if o.MinPGNBytesPerMove < 1 {
		o.MinPGNBytesPerMove = DefaultOptions.MinPGNBytesPerMove
	}
	return o
}

// LevelStats accumulates one level's ingest counters.
type LevelStats struct {
	Games        uint64
	SkippedGames uint64
	Positions    uint64
}

// Stats is the aggregate result of a Run (spec §4.6: "Returned statistics:
// games, skipped-games, positions, per level").
type Stats struct {
	PerLevel map[level.Level]*LevelStats
}

func newStats() *Stats {
	return &Stats{PerLevel: make(map[level.Level]*LevelStats)}
}

func (s *Stats) levelStats(lvl level.Level) *LevelStats {
	ls, ok := s.PerLevel[lvl]
	if !ok {
		ls = &LevelStats{}
		s.PerLevel[lvl] = ls
	}
	return ls
}

func (s *Stats) merge(other *Stats) {
	for lvl, ls := range other.PerLevel {
		target := s.levelStats(lvl)
		target.Games += ls.Games
		target.SkippedGames += ls.SkippedGames
		target.Positions += ls.Positions
	}
}

// PartitionOpener opens (creating if necessary) the partition identified by
// key, returning the same *partition.Partition for repeated calls with an
// equal key. Supplied by the database facade (internal/db), which owns the
// partitions' root directory, format and index configuration, and installs
// the merge function.
type PartitionOpener func(key partition.Key) (*partition.Partition, error)

// HeaderStoreOpener returns the header store for lvl, opening it if
// necessary.
type HeaderStoreOpener func(lvl level.Level) (*headerstore.Store, error)

// Driver runs ingest blocks against partitions and header stores supplied
// by the caller (spec §4.6).
type Driver struct {
	opts        Options
	openPart    PartitionOpener
	openHeaders HeaderStoreOpener

	mu         sync.Mutex
	partitions map[partition.Key]*partition.Partition
	headers    map[level.Level]*headerstore.Store
}

// NewDriver builds a Driver. openPart and openHeaders are called at most
// once per distinct key/level, memoized internally, and may be called
// concurrently from different block workers.
func NewDriver(opts Options, openPart PartitionOpener, openHeaders HeaderStoreOpener) *Driver {
	return &Driver{
		opts:        opts.withDefaults(),
		openPart:    openPart,
		openHeaders: openHeaders,
		partitions:  make(map[partition.Key]*partition.Partition),
		headers:     make(map[level.Level]*headerstore.Store),
	}
}

func (d *Driver) partitionFor(key partition.Key) (*partition.Partition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.partitions[key]; ok {
		return p, nil
	}
	p, err := d.openPart(key)
	if err != nil {
		return nil, err
	}
	d.partitions[key] = p
	return p, nil
}

func (d *Driver) headerStoreFor(lvl level.Level) (*headerstore.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.headers[lvl]; ok {
		return s, nil
	}
	s, err := d.openHeaders(lvl)
	if err != nil {
		return nil, err
	}
	d.headers[lvl] = s
	return s, nil
}

// Run ingests every archive, grouping by level and dividing each level's
// archives into byte-balanced blocks processed by up to opts.Threads
// concurrent workers (spec §4.6). A corrupt archive aborts only the block
// that was reading it; already-stored runs from other blocks are not rolled
// back (spec §4.6 Failure modes).
func (d *Driver) Run(ctx context.Context, archives []Archive) (*Stats, error) {
	byLevel := make(map[level.Level][]Archive)
	for _, a := range archives {
		byLevel[a.Level] = append(byLevel[a.Level], a)
	}

	total := newStats()
	var totalMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Threads)

	for lvl, lvlArchives := range byLevel {
		blocks, err := sizedArchives(lvlArchives)
		if err != nil {
			return nil, err
		}
		for _, block := range divideBlocks(blocks, d.opts.Threads) {
			block := block
			lvl := lvl
			g.Go(func() error {
				stats, err := d.processBlock(ctx, lvl, block)
				if err != nil {
					return fmt.Errorf("ingest: level %s: %w", lvl, err)
				}
				totalMu.Lock()
				total.merge(stats)
				totalMu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}
