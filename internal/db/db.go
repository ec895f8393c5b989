// Package db implements the database facade (spec §4.8): it owns a
// directory's manifest, its per-level header stores and partitions, and
// routes imports and queries to internal/ingest and internal/query while
// persisting lifetime statistics.
package db

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/freeeve/posdb/internal/eco"
	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/merge"
	"github.com/freeeve/posdb/internal/partition"
	"github.com/freeeve/posdb/internal/query"
)

// partitionsDirName segments the directory layout spec §6 describes as
// "<root>/<level>/<result>/<hash-partition>/<id>[, _index]" under its own
// namespace, alongside header stores at "<root>/header_<level>".
const partitionsDirName = "partitions"

// Options configures an open database.
type Options struct {
	// Buckets is the hash-modulo bucket count (P) new partitions are
	// classified under (spec §4.6: "P = 1 in the default single-partition
	// format").
	Buckets uint32
	// Format selects the on-disk entry payload encoding (spec §3).
	Format partition.Format
	// IndexConfig controls range-index sampling density.
	IndexConfig partition.IndexConfig
	// ECO optionally classifies openings at ingest time; nil disables it.
	ECO *eco.Database
	Logger zerolog.Logger
}

// DefaultOptions is the single-partition, packed-payload production
// configuration.
var DefaultOptions = Options{
	Buckets:     1,
	Format:      partition.FormatPacked,
	IndexConfig: partition.DefaultIndexConfig,
}

func (o Options) withDefaults() Options {
	if o.Buckets == 0 {
		o.Buckets = 1
	}
	if o.IndexConfig.SampleEvery == 0 {
		o.IndexConfig = partition.DefaultIndexConfig
	}
	return o
}

// DB is an open database directory: a validated manifest, lazily-opened
// per-level header stores and per-(level,result,bucket,withMove)
// partitions, and the ingest/query components wired over them.
type DB struct {
	dir  string
	opts Options
	log  zerolog.Logger

	stats *Stats

	mu         sync.Mutex
	headers    map[level.Level]*headerstore.Store
	partitions map[partition.Key]*partition.Partition

	engine *query.Engine
}

// Open validates (or creates) dir's manifest and returns a DB ready for
// Import and Query calls. It refuses to open a directory whose manifest
// does not match this build's format key and byte order (spec §4.8).
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := createOrValidateManifest(dir); err != nil {
		return nil, err
	}
	stats, err := loadStats(statsPath(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "db: load stats %s", dir)
	}

	d := &DB{
		dir:        dir,
		opts:       opts,
		log:        opts.Logger,
		stats:      stats,
		headers:    make(map[level.Level]*headerstore.Store),
		partitions: make(map[partition.Key]*partition.Partition),
	}
	d.engine = query.NewEngine(d.lookupPartition, d.lookupHeaderStore)
	return d, nil
}

// Close closes every opened header store. Lifetime stats need no flush here:
// each Import persists them as it finishes.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, hs := range d.headers {
		if err := hs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dir returns the database's root directory.
func (d *DB) Dir() string { return d.dir }

// Stats returns a defensive snapshot of the database's lifetime import
// statistics (spec §4.8: "persisting lifetime statistics").
func (d *DB) Stats() map[level.Level]LevelStats { return d.stats.snapshot() }

func (d *DB) headerStoreFor(lvl level.Level) (*headerstore.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hs, ok := d.headers[lvl]; ok {
		return hs, nil
	}
	dir := filepath.Join(d.dir, "header_"+lvl.String())
	hs, err := headerstore.Open(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "db: open header store %s", dir)
	}
	d.headers[lvl] = hs
	return hs, nil
}

func (d *DB) lookupHeaderStore(lvl level.Level) (*headerstore.Store, bool) {
	d.mu.Lock()
	hs, ok := d.headers[lvl]
	d.mu.Unlock()
	if ok {
		return hs, true
	}
	hs, err := d.headerStoreFor(lvl)
	if err != nil {
		return nil, false
	}
	return hs, true
}

func (d *DB) partitionFor(key partition.Key) (*partition.Partition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.partitions[key]; ok {
		return p, nil
	}
	p, err := partition.Open(key, filepath.Join(d.dir, partitionsDirName), d.opts.Format, d.opts.IndexConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "db: open partition %+v", key)
	}
	p.SetMergeFunc(merge.MergeRuns)
	d.partitions[key] = p
	return p, nil
}

// lookupPartition implements query.PartitionLookup: it opens (or reuses)
// the partition for bucket's (level, result), hashBucket and withMove,
// returning ok=false only if opening it fails (a directory it has never
// seen queries as empty rather than erroring, matching "keys not found
// produce a zero-width range").
func (d *DB) lookupPartition(bucket query.Bucket, hashBucket uint32, withMove bool) (*partition.Partition, bool) {
	key := partition.Key{Level: bucket.Level, Result: bucket.Result, Bucket: hashBucket, WithMove: withMove}
	p, err := d.partitionFor(key)
	if err != nil {
		d.log.Warn().Err(err).Msg("db: query partition lookup failed")
		return nil, false
	}
	return p, true
}

// Import runs an ingest over archives with the given options and folds the
// resulting per-level statistics into the database's lifetime stats (spec
// §4.8: "routing imports to the ingest driver with the correct memory
// split"). ingestOpts.Buckets is overridden with the database's own, since
// every partition in one directory must agree on bucket count.
// ingestOpts.ECO and ingestOpts.Logger fall back to the database's own when
// left unset.
func (d *DB) Import(ctx context.Context, archives []ingest.Archive, ingestOpts ingest.Options) (*ingest.Stats, error) {
	ingestOpts.Buckets = d.opts.Buckets
	if ingestOpts.ECO == nil {
		ingestOpts.ECO = d.opts.ECO
	}
	if reflect.DeepEqual(ingestOpts.Logger, zerolog.Logger{}) {
		ingestOpts.Logger = d.log
	}
	drv := ingest.NewDriver(ingestOpts, d.partitionFor, d.headerStoreFor)
	run, err := drv.Run(ctx, archives)
	if err != nil {
		return nil, errors.Wrap(err, "db: import")
	}
	if err := d.stats.merge(run); err != nil {
		return run, errors.Wrap(err, "db: persist lifetime stats")
	}
	return run, nil
}

// Query answers req against every partition and header store the request
// touches, opening them on demand (spec §4.7).
func (d *DB) Query(req query.Request) ([]query.RootResult, error) {
	if req.BucketCount == 0 {
		req.BucketCount = d.opts.Buckets
	}
	return d.engine.Query(req)
}

// MergeAll compacts every opened-so-far partition's runs into one (spec
// §4.8: "exposing mergeAll"). Partitions are discovered from whatever has
// been opened by a prior Import or Query; callers that want every
// partition on disk merged should call OpenAllPartitions first.
func (d *DB) MergeAll(progress func(written, total int)) error {
	for _, p := range d.snapshotPartitions() {
		if _, err := p.MergeAll(progress); err != nil {
			return errors.Wrapf(err, "db: merge all %+v", p.Key())
		}
	}
	return nil
}

// ReplicateMergeAll performs the same merge as MergeAll but writes into a
// separate directory without altering this database (spec §4.8:
// "replicateMergeAll(outDir, progress) performs the same merge writing
// into a separate directory, without altering the current partition").
// Every level's header store is also replicated into outDir and a fresh
// manifest is written there, so outDir is a complete, openable database on
// its own rather than position counts with no game headers behind them.
func (d *DB) ReplicateMergeAll(outDir string, progress func(written, total int)) error {
	for _, p := range d.snapshotPartitions() {
		dest := p.Key().Dir(filepath.Join(outDir, partitionsDirName))
		if err := p.ReplicateMergeAll(dest, progress); err != nil {
			return errors.Wrapf(err, "db: replicate merge all %+v", p.Key())
		}
	}
	for _, lvl := range level.Levels() {
		hs, err := d.headerStoreFor(lvl)
		if err != nil {
			return errors.Wrapf(err, "db: open header store %s", lvl)
		}
		dest := filepath.Join(outDir, "header_"+lvl.String())
		if err := hs.ReplicateInto(dest); err != nil {
			return errors.Wrapf(err, "db: replicate header store %s", lvl)
		}
	}
	if err := writeManifest(outDir, expectedManifest()); err != nil {
		return errors.Wrapf(err, "db: write manifest %s", outDir)
	}
	return nil
}

func (d *DB) snapshotPartitions() []*partition.Partition {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*partition.Partition, 0, len(d.partitions))
	for _, p := range d.partitions {
		out = append(out, p)
	}
	return out
}

// OpenAllPartitions opens every (level, result, bucket, withMove) partition
// under dir's partitions namespace for the database's bucket count, creating
// the directory of any combination not yet on disk, so MergeAll and
// ReplicateMergeAll cover the whole directory rather than just what the
// current process happened to touch.
func (d *DB) OpenAllPartitions() error {
	for _, lvl := range level.Levels() {
		for _, res := range level.Results() {
			for bucket := uint32(0); bucket < d.opts.Buckets; bucket++ {
				for _, withMove := range [2]bool{true, false} {
					key := partition.Key{Level: lvl, Result: res, Bucket: bucket, WithMove: withMove}
					if _, err := d.partitionFor(key); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// ValidateManifestOnly checks dir's manifest against this build's without
// opening a DB.
func ValidateManifestOnly(dir string) (ValidationResult, error) {
	loaded, present, err := readManifest(dir)
	if err != nil {
		return ValidationInvalidManifest, err
	}
	return validate(loaded, present), nil
}
