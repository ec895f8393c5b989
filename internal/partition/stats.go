package partition

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Metadata holds a partition's persistent summary stats (spec §4.8: "the
// database facade persists per-partition counters alongside the manifest").
type Metadata struct {
	TotalQueries uint64 `json:"total_queries"`
	TotalStores  uint64 `json:"total_stores"`
	TotalEntries uint64 `json:"total_entries"`
	RunCount     int    `json:"run_count"`
}

// StatsCollector tracks live counters for one partition, mirroring the
// teacher's StatsCollector: atomic counters with an optional metadata.json
// sidecar for cross-restart persistence.
type StatsCollector struct {
	totalQueries uint64
	totalStores  uint64
	totalEntries uint64

	dir string
}

// NewStatsCollector creates a stats collector persisting under dir.
func NewStatsCollector(dir string) *StatsCollector {
	return &StatsCollector{dir: dir}
}

// IncrementQueries atomically increments the query counter.
func (s *StatsCollector) IncrementQueries() {
	atomic.AddUint64(&s.totalQueries, 1)
}

// IncrementStores atomically increments the store counter by one batch and
// the entry counter by the given entry count.
func (s *StatsCollector) IncrementStores(entries uint64) {
	atomic.AddUint64(&s.totalStores, 1)
	atomic.AddUint64(&s.totalEntries, entries)
}

// TotalQueries returns the current query count.
func (s *StatsCollector) TotalQueries() uint64 { return atomic.LoadUint64(&s.totalQueries) }

// TotalStores returns the current store-batch count.
func (s *StatsCollector) TotalStores() uint64 { return atomic.LoadUint64(&s.totalStores) }

// TotalEntries returns the current total entries ever stored.
func (s *StatsCollector) TotalEntries() uint64 { return atomic.LoadUint64(&s.totalEntries) }

func (s *StatsCollector) metadataPath() string {
	return filepath.Join(s.dir, "metadata.json")
}

// LoadMetadata loads persisted counters from dir/metadata.json, if present.
func (s *StatsCollector) LoadMetadata() error {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	atomic.StoreUint64(&s.totalQueries, meta.TotalQueries)
	atomic.StoreUint64(&s.totalStores, meta.TotalStores)
	atomic.StoreUint64(&s.totalEntries, meta.TotalEntries)
	return nil
}

// SaveMetadata persists current counters to dir/metadata.json via a
// temp-file-then-rename, matching the rest of the package's atomic-write
// idiom.
func (s *StatsCollector) SaveMetadata(runCount int) error {
	meta := Metadata{
		TotalQueries: atomic.LoadUint64(&s.totalQueries),
		TotalStores:  atomic.LoadUint64(&s.totalStores),
		TotalEntries: atomic.LoadUint64(&s.totalEntries),
		RunCount:     runCount,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.metadataPath(), data)
}
