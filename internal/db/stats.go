package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
)

// statsFilename is the database-wide lifetime counters file (spec §6
// directory layout: "<root>/stats").
const statsFilename = "stats"

// LevelStats mirrors ingest.LevelStats but accumulates across the
// database's whole lifetime rather than one Import call (spec §4.8:
// "persisting lifetime statistics").
type LevelStats struct {
	Games        uint64 `json:"games"`
	SkippedGames uint64 `json:"skipped_games"`
	Positions    uint64 `json:"positions"`
}

// Stats is the persistent, cumulative import history of a database
// directory, one entry per level, loaded at Open and updated after every
// successful Import.
type Stats struct {
	mu       sync.Mutex
	PerLevel map[level.Level]*LevelStats `json:"per_level"`
	path     string
}

func newStats(path string) *Stats {
	return &Stats{PerLevel: make(map[level.Level]*LevelStats), path: path}
}

// loadStats reads path's persisted stats, or returns a zeroed Stats if the
// file does not exist yet (spec scenario 1: "importing an empty file list
// leaves ... stats all zero").
func loadStats(path string) (*Stats, error) {
	s := newStats(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var onDisk struct {
		PerLevel map[level.Level]*LevelStats `json:"per_level"`
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, err
	}
	if onDisk.PerLevel != nil {
		s.PerLevel = onDisk.PerLevel
	}
	return s, nil
}

// merge folds an ingest run's per-level stats into the lifetime totals and
// persists the result.
func (s *Stats) merge(run *ingest.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lvl, ls := range run.PerLevel {
		acc, ok := s.PerLevel[lvl]
		if !ok {
			acc = &LevelStats{}
			s.PerLevel[lvl] = acc
		}
		acc.Games += ls.Games
		acc.SkippedGames += ls.SkippedGames
		acc.Positions += ls.Positions
	}
	return s.saveLocked()
}

// snapshot returns a defensive copy of the current lifetime stats.
func (s *Stats) snapshot() map[level.Level]LevelStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[level.Level]LevelStats, len(s.PerLevel))
	for lvl, ls := range s.PerLevel {
		out[lvl] = *ls
	}
	return out
}

func (s *Stats) saveLocked() error {
	data, err := json.MarshalIndent(struct {
		PerLevel map[level.Level]*LevelStats `json:"per_level"`
	}{s.PerLevel}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

func statsPath(dir string) string {
	return filepath.Join(dir, statsFilename)
}
