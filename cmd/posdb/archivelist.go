package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
)

// parseArchiveListFile reads a "<level>;<path>" per line manifest, the
// format original_source's parsePgnListFile consumes for create's
// <pgn-list-file> argument. Blank lines are skipped.
func parseArchiveListFile(path string) ([]ingest.Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("posdb: open archive list %s: %w", path, err)
	}
	defer f.Close()

	var archives []ingest.Archive
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		levelStr, archivePath, ok := strings.Cut(line, ";")
		if !ok {
			return nil, fmt.Errorf("posdb: %s:%d: expected \"<level>;<path>\"", path, lineNum)
		}
		lvl, err := level.ParseLevel(strings.TrimSpace(levelStr))
		if err != nil {
			return nil, fmt.Errorf("posdb: %s:%d: %w", path, lineNum, err)
		}
		archives = append(archives, ingest.Archive{Path: strings.TrimSpace(archivePath), Level: lvl})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("posdb: read archive list %s: %w", path, err)
	}
	return archives, nil
}
