package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/bcgn"
	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/config"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/pgnreader"
)

// convertCmd implements the "convert" command (original_source's convert/
// convertPgnToBcgnImpl): replay a PGN file's games and re-emit them as BCGN
// records, at an optional compression level, truncating the destination
// unless told to append.
var convertCmd = &cobra.Command{
	Use:   "convert <from.pgn> <to.bcgn> [<compression-level> [a]]",
	Short: "Convert a PGN archive to BCGN",
	Args:  cobra.RangeArgs(2, 4),
	RunE:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	from, to := args[0], args[1]
	if filepath.Ext(from) != ".pgn" || filepath.Ext(to) != ".bcgn" {
		return fmt.Errorf("posdb: convert requires a .pgn source and a .bcgn destination")
	}

	header := bcgn.FileHeader{Version: bcgn.Version, CompressionLevel: bcgn.CompressionRaw}
	if len(args) >= 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("posdb: invalid compression level %q", args[2])
		}
		switch n {
		case 0:
			header.CompressionLevel = bcgn.CompressionRaw
		case 1:
			header.CompressionLevel = bcgn.CompressionIndex
		default:
			return fmt.Errorf("posdb: unknown compression level %d", n)
		}
	}
	appendMode := len(args) == 4 && args[3] == "a"

	src, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("posdb: open %s: %w", from, err)
	}
	defer src.Close()

	if appendMode {
		if existing, err := peekExistingHeader(to); err == nil {
			header = existing
		}
	}

	dst, writeHeader, err := openConvertDestination(to, appendMode)
	if err != nil {
		return err
	}
	defer dst.Close()
	out := bufio.NewWriterSize(dst, bcgn.DefaultWriterBufferSize)
	if writeHeader {
		if err := bcgn.WriteHeader(out, header); err != nil {
			return fmt.Errorf("posdb: write header: %w", err)
		}
	}

	cfg := config.Default()
	log := cfg.Logger()

	reader := pgnreader.NewReader(src)
	converted := 0
	for {
		raw, err := reader.NextGame()
		if err != nil {
			break
		}
		game := pgnreader.NewGame(*raw)
		rec, err := recordFromGame(game)
		if err != nil {
			log.Warn().Err(err).Int("game", converted).Msg("posdb: convert: skipping game")
			continue
		}
		encoded, err := rec.Encode(header)
		if err != nil {
			log.Warn().Err(err).Int("game", converted).Msg("posdb: convert: skipping oversize game")
			continue
		}
		if _, err := out.Write(encoded); err != nil {
			return fmt.Errorf("posdb: write record: %w", err)
		}
		converted++
		if converted%100000 == 0 {
			log.Info().Int("games", converted).Msg("posdb: convert: progress")
		}
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("posdb: flush: %w", err)
	}
	log.Info().Int("games", converted).Msg("posdb: convert: done")
	return nil
}

// peekExistingHeader reads to's file header without disturbing its append
// position, so an "a" (append) run reuses the compression level a prior run
// already committed to instead of risking a mismatched header.
func peekExistingHeader(to string) (bcgn.FileHeader, error) {
	f, err := os.Open(to)
	if err != nil {
		return bcgn.FileHeader{}, err
	}
	defer f.Close()
	return bcgn.ReadHeader(f)
}

// openConvertDestination opens to for writing, reporting whether the caller
// must still write a fresh file header: append mode against an existing
// non-empty file reuses its header instead of rewriting one.
func openConvertDestination(to string, appendMode bool) (*os.File, bool, error) {
	if appendMode {
		if info, err := os.Stat(to); err == nil && info.Size() > 0 {
			f, err := os.OpenFile(to, os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, false, fmt.Errorf("posdb: open %s for append: %w", to, err)
			}
			return f, false, nil
		}
	}
	f, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("posdb: create %s: %w", to, err)
	}
	return f, true, nil
}

// recordFromGame builds a bcgn.Record from a PGN game's tags and replayed
// move sequence.
func recordFromGame(game *pgnreader.Game) (*bcgn.Record, error) {
	positions, _, err := game.Positions()
	if err != nil {
		return nil, err
	}
	moves := make([]chess.Move, 0, len(positions))
	for _, p := range positions[1:] {
		moves = append(moves, p.ReverseMove)
	}

	white, _ := game.Tag("White")
	black, _ := game.Tag("Black")
	event, _ := game.Tag("Event")
	site, _ := game.Tag("Site")
	date, _ := game.Tag("Date")
	year, month, day := parseDateTagLocal(date)

	rec := &bcgn.Record{
		White: white, Black: black, Event: event, Site: site,
		Year: year, Month: month, Day: day,
		WhiteElo: uint16(intTagOfLocal(game, "WhiteElo")),
		BlackElo: uint16(intTagOfLocal(game, "BlackElo")),
		Round:    uint16(intTagOfLocal(game, "Round")),
		Moves:    moves,
	}
	if result, ok := game.Result(); ok {
		rec.Result = result
	} else {
		rec.Result = level.WhiteWin // unknown result has no BCGN sentinel; matches the format's non-optional Result field
	}
	return rec, nil
}

func intTagOfLocal(game *pgnreader.Game, name string) int {
	v, ok := game.Tag(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func parseDateTagLocal(tag string) (year uint16, month, day uint8) {
	parts := strings.SplitN(tag, ".", 3)
	if len(parts) > 0 {
		if v, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			year = uint16(v)
		}
	}
	if len(parts) > 1 {
		if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			month = uint8(v)
		}
	}
	if len(parts) > 2 {
		if v, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil {
			day = uint8(v)
		}
	}
	return year, month, day
}
