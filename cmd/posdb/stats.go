package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/freeeve/posdb/internal/ingest"
)

// assertDirEmpty mirrors original_source's assertDirectoryEmpty: a create
// destination (or merge replication target) must not already contain
// anything, so an ingest run can never silently mix into existing data.
func assertDirEmpty(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("posdb: read directory %s: %w", path, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("posdb: directory %s is not empty", path)
	}
	return nil
}

// logImportStats reports one ingest run's per-level counters, the CLI
// analogue of the socket protocol's "stats" field in a create/merge reply.
func logImportStats(log zerolog.Logger, stats *ingest.Stats) {
	for lvl, ls := range stats.PerLevel {
		log.Info().
			Str("level", lvl.String()).
			Uint64("games", ls.Games).
			Uint64("skipped_games", ls.SkippedGames).
			Uint64("positions", ls.Positions).
			Msg("posdb: ingest complete")
	}
}
