// Package config builds the single configuration value cmd/posdb assembles
// from CLI flags and passes into internal/db and internal/socket by
// explicit dependency injection (spec's design notes: "globals and
// singletons ... replace with explicit dependency injection: build a
// configuration value at startup, pass it into facade constructors"). No
// package-level mutable configuration exists anywhere in this module.
package config

import (
	"runtime"

	"github.com/rs/zerolog"

	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/eco"
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/logx"
	"github.com/freeeve/posdb/internal/partition"
)

// Config is the CLI-derived configuration every posdb subcommand builds
// once at startup and threads through explicitly.
type Config struct {
	// Buckets is the hash-modulo bucket count (P) new partitions are
	// classified under (spec §4.6).
	Buckets uint32
	// IndexSampleEvery controls range-index sampling density (spec §4.3
	// design notes: "documented default ≈ max(1, entry-count / 1024)").
	IndexSampleEvery int
	// Threads bounds the number of archive blocks internal/ingest processes
	// concurrently (spec §5: "a small fixed set of OS threads").
	Threads int
	// BufferSize is the number of entries accumulated per partition before
	// an ingest run flushes it as one sorted run. Ignored when MemoryBytes
	// is set.
	BufferSize int
	// MemoryBytes, if positive, overrides BufferSize by deriving it from a
	// total buffer memory budget via DB.ImportOptionsForMemory instead.
	MemoryBytes int64
	// ECODir, if non-empty, is loaded into an eco.Database and attached to
	// every Import call for opening classification.
	ECODir string
	// LogLevel selects the zerolog level cmd/posdb's logger runs at.
	LogLevel string
}

// Default returns the configuration cmd/posdb falls back to absent any
// flags, matching internal/db and internal/ingest's own defaults.
func Default() Config {
	return Config{
		Buckets:          db.DefaultOptions.Buckets,
		IndexSampleEvery: partition.DefaultIndexConfig.SampleEvery,
		Threads:          runtime.NumCPU(),
		BufferSize:       ingest.DefaultOptions.BufferSize,
		LogLevel:         "info",
	}
}

// Logger builds this configuration's zerolog.Logger.
func (c Config) Logger() zerolog.Logger {
	return logx.NewLogger(logx.ParseLevel(c.LogLevel))
}

// LoadECO loads c.ECODir's opening book, or returns a nil *eco.Database if
// ECODir is unset (opening classification is then simply skipped).
func (c Config) LoadECO(log zerolog.Logger) (*eco.Database, error) {
	if c.ECODir == "" {
		return nil, nil
	}
	ecoDB := eco.NewDatabase()
	if err := ecoDB.LoadDir(c.ECODir); err != nil {
		return nil, err
	}
	log.Info().Int("openings", ecoDB.Count()).Str("dir", c.ECODir).Msg("config: loaded ECO database")
	return ecoDB, nil
}

// DBOptions builds the internal/db.Options this configuration describes,
// for use with db.Open.
func (c Config) DBOptions(log zerolog.Logger, ecoDB *eco.Database) db.Options {
	opts := db.DefaultOptions
	if c.Buckets > 0 {
		opts.Buckets = c.Buckets
	}
	if c.IndexSampleEvery > 0 {
		opts.IndexConfig = partition.IndexConfig{SampleEvery: c.IndexSampleEvery}
	}
	opts.ECO = ecoDB
	opts.Logger = log
	return opts
}

// IngestOptions builds the internal/ingest.Options this configuration
// describes, for use with DB.Import. If open is non-nil and c.MemoryBytes
// is positive, the buffer size is instead derived from that memory budget
// via DB.ImportOptionsForMemory.
func (c Config) IngestOptions(open *db.DB, ecoDB *eco.Database) ingest.Options {
	if open != nil && c.MemoryBytes > 0 {
		return open.ImportOptionsForMemory(c.Threads, c.MemoryBytes)
	}
	opts := ingest.DefaultOptions
	if c.Threads > 0 {
		opts.Threads = c.Threads
	}
	if c.BufferSize > 0 {
		opts.BufferSize = c.BufferSize
	}
	if c.Buckets > 0 {
		opts.Buckets = c.Buckets
	}
	opts.ECO = ecoDB
	return opts
}
