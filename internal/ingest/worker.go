package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/posdb/internal/bcgn"
	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/partition"
	"github.com/freeeve/posdb/internal/pgnreader"
)

// destination is one (result, bucket, withMove) buffer for a block being
// processed, holding the pre-reserved id range that keeps its runs ordered
// across blocks (spec §4.6). Entries are staged through an async pipeline
// (spec §4.5) so sorting a full buffer never blocks the archive reader.
type destination struct {
	part     *partition.Partition
	pipeline *partition.Pipeline
	nextID   uint32
	idsLeft  int
}

// allocID draws the next id from dest's pre-reserved range, falling back to
// a freshly reserved single id once that range is exhausted. It is called
// only from the pipeline's Add/Flush, which this block's single goroutine
// owns, so it needs no locking of its own.
func (dest *destination) allocID() uint32 {
	if dest.idsLeft > 0 {
		id := dest.nextID
		dest.nextID++
		dest.idsLeft--
		return id
	}
	return dest.part.ReserveIDs(1)
}

// posOccurrence is one distinct position reached during a game's replay:
// its hash and the move that reached it (zero/HasMove=false for the start
// position).
type posOccurrence struct {
	hash    entrykey.Hash
	move    chess.PackedMove
	hasMove bool
}

// processBlock reads every archive in block, recording each game's header
// and appending an entry per distinct position occurrence to the level's
// destination partitions (spec §4.6 steps 1-4). A corrupt archive aborts
// only this block; runs already stored by earlier archives in the block
// are not rolled back.
func (d *Driver) processBlock(ctx context.Context, lvl level.Level, block []sizedArchive) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hs, err := d.headerStoreFor(lvl)
	if err != nil {
		return nil, fmt.Errorf("ingest: header store: %w", err)
	}

	reserveN := reserveCountForBlock(blockByteSize(block), d.opts.BufferSize, d.opts.MinPGNBytesPerMove)
	dests, err := d.openDestinations(lvl, reserveN)
	if err != nil {
		return nil, err
	}

	stats := newStats()
	ls := stats.levelStats(lvl)

	for _, a := range block {
		if err := d.processArchive(a, lvl, hs, dests, ls); err != nil {
			return stats, fmt.Errorf("ingest: archive %s: %w", a.Path, err)
		}
	}

	for _, dest := range dests {
		if err := dest.pipeline.Close(); err != nil {
			return stats, fmt.Errorf("ingest: final flush: %w", err)
		}
	}
	return stats, nil
}

// openDestinations opens (or reuses) every (result, bucket, withMove)
// partition for lvl and pre-reserves reserveN run ids in each, fixing the
// block's output ids up front (spec §4.6), then starts each destination's
// store pipeline against that reservation.
func (d *Driver) openDestinations(lvl level.Level, reserveN int) (map[partition.Key]*destination, error) {
	dests := make(map[partition.Key]*destination, len(level.Results())*2*int(d.opts.Buckets))
	for _, result := range level.Results() {
		for bucket := uint32(0); bucket < d.opts.Buckets; bucket++ {
			for _, withMove := range [...]bool{true, false} {
				key := partition.Key{Level: lvl, Result: result, Bucket: bucket, WithMove: withMove}
				part, err := d.partitionFor(key)
				if err != nil {
					return nil, fmt.Errorf("ingest: open partition %+v: %w", key, err)
				}
				first := part.ReserveIDs(reserveN)
				dest := &destination{part: part, nextID: first, idsLeft: reserveN}
				dest.pipeline = partition.NewPipeline(part, dest.allocID, partition.PipelineConfig{BufferSize: d.opts.BufferSize})
				dests[key] = dest
			}
		}
	}
	return dests, nil
}

// hashToBucket classifies a position hash into one of buckets buckets
// (spec §4.6: "classify each position to a partition bucket via hash mod
// P"). The default single-partition format (P = 1) always returns 0.
func hashToBucket(h entrykey.Hash, buckets uint32) uint32 {
	if buckets <= 1 {
		return 0
	}
	return h[3] % buckets
}

// appendOccurrence records one distinct position occurrence into both the
// continuation (WithMove=true) and transposition (WithMove=false)
// destination for its (level, result, bucket): the same key, written to
// both buffer families, since it is each partition's own comparator that
// decides whether differing-predecessor-move entries combine (spec §4.3).
func (d *Driver) appendOccurrence(dests map[partition.Key]*destination, lvl level.Level, result level.Result, occ posOccurrence, gameIndex uint64, ls *LevelStats) error {
	var move chess.PackedMove
	if occ.hasMove {
		move = occ.move
	}
	key := entrykey.NewKey(occ.hash, move, lvl, result)
	bucket := hashToBucket(occ.hash, d.opts.Buckets)
	entry := partition.Entry{Key: key, Payload: partition.Payload{Count: 1, Offset: gameIndex, OffsetValid: true}}

	for _, withMove := range [...]bool{true, false} {
		destKey := partition.Key{Level: lvl, Result: result, Bucket: bucket, WithMove: withMove}
		dests[destKey].pipeline.Add(entry)
	}
	ls.Positions++
	return nil
}

// fingerprintPrefixBytes bounds how much of an archive is read to compute
// its ingest-start fingerprint.
const fingerprintPrefixBytes = 64 * 1024

// logArchiveFingerprint hashes a.Path's first 64KiB with xxhash64 and logs
// it, giving operators a cheap way to notice when a "same name, different
// bytes" archive was re-ingested. Hashing failures are logged and otherwise
// ignored; they never abort the ingest.
func (d *Driver) logArchiveFingerprint(path string) {
	f, err := os.Open(path)
	if err != nil {
		d.opts.Logger.Warn().Err(err).Str("path", path).Msg("ingest: fingerprint: open failed")
		return
	}
	defer f.Close()

	buf := make([]byte, fingerprintPrefixBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		d.opts.Logger.Warn().Err(err).Str("path", path).Msg("ingest: fingerprint: read failed")
		return
	}
	fp := xxhash.Sum64(buf[:n])
	d.opts.Logger.Info().Str("path", path).Uint64("fingerprint", fp).Int("prefix_bytes", n).Msg("ingest: archive fingerprint")
}

// processArchive opens a.Path by extension (.bcgn for packed binary
// archives, .pgn/.pgn.zst for textual ones) and streams its games into hs
// and dests.
func (d *Driver) processArchive(a sizedArchive, lvl level.Level, hs *headerstore.Store, dests map[partition.Key]*destination, ls *LevelStats) error {
	d.logArchiveFingerprint(a.Path)
	if strings.HasSuffix(a.Path, ".bcgn") {
		return d.processBCGNArchive(a.Path, lvl, hs, dests, ls)
	}
	return d.processPGNArchive(a.Path, lvl, hs, dests, ls)
}

func (d *Driver) processPGNArchive(path string, lvl level.Level, hs *headerstore.Store, dests map[partition.Key]*destination, ls *LevelStats) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	reader := pgnreader.NewReader(src)
	for {
		raw, err := reader.NextGame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read game: %w", err)
		}
		game := pgnreader.NewGame(*raw)

		result, ok := game.Result()
		if !ok {
			ls.SkippedGames++
			continue
		}

		positions, _, err := game.Positions()
		if err != nil {
			return fmt.Errorf("replay positions: %w", err)
		}

		header := d.pgnHeader(game, positions, result)
		gameIndex, err := hs.AddGame(header)
		if err != nil {
			return fmt.Errorf("add game header: %w", err)
		}

		seen := make(map[entrykey.Hash]bool, len(positions))
		for _, p := range positions {
			hash := entrykey.HashPosition(p.Pos)
			if seen[hash] {
				continue
			}
			seen[hash] = true
			occ := posOccurrence{hash: hash, hasMove: p.HasMove}
			if p.HasMove {
				occ.move = chess.PackMove(p.ReverseMove)
			}
			if err := d.appendOccurrence(dests, lvl, result, occ, gameIndex, ls); err != nil {
				return fmt.Errorf("append occurrence: %w", err)
			}
		}
		ls.Games++
	}
}

func (d *Driver) processBCGNArchive(path string, lvl level.Level, hs *headerstore.Store, dests map[partition.Key]*destination, ls *LevelStats) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	reader, err := bcgn.NewReader(f)
	if err != nil {
		return fmt.Errorf("bcgn header: %w", err)
	}

	for {
		rec, err := reader.NextRecord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}

		header := headerstore.Header{
			White: rec.White, Black: rec.Black, Event: rec.Event, Site: rec.Site,
			Year: rec.Year, Month: rec.Month, Day: rec.Day,
			WhiteElo: rec.WhiteElo, BlackElo: rec.BlackElo, Round: rec.Round,
			ECOCategory: rec.ECOCategory, ECOIndex: rec.ECOIndex,
			Ply: len(rec.Moves), Result: rec.Result,
		}
		gameIndex, err := hs.AddGame(header)
		if err != nil {
			return fmt.Errorf("add game header: %w", err)
		}

		start, err := rec.StartPosition()
		if err != nil {
			return fmt.Errorf("start position: %w", err)
		}

		seen := make(map[entrykey.Hash]bool, len(rec.Moves)+1)
		pos := start
		record := func(move chess.PackedMove, hasMove bool) error {
			hash := entrykey.HashPosition(pos)
			if seen[hash] {
				return nil
			}
			seen[hash] = true
			return d.appendOccurrence(dests, lvl, rec.Result, posOccurrence{hash: hash, move: move, hasMove: hasMove}, gameIndex, ls)
		}
		if err := record(0, false); err != nil {
			return fmt.Errorf("append occurrence: %w", err)
		}
		for _, mv := range rec.Moves {
			next := chess.Clone(pos)
			if err := chess.Apply(next, mv); err != nil {
				return fmt.Errorf("replay move: %w", err)
			}
			pos = next
			if err := record(chess.PackMove(mv), true); err != nil {
				return fmt.Errorf("append occurrence: %w", err)
			}
		}
		ls.Games++
	}
}

// pgnHeader builds the headerstore.Header for a PGN game from its tags,
// classifying its opening against d.opts.ECO (when set) using the deepest
// position the game reached.
func (d *Driver) pgnHeader(game *pgnreader.Game, positions []pgnreader.Position, result level.Result) headerstore.Header {
	white, _ := game.Tag("White")
	black, _ := game.Tag("Black")
	event, _ := game.Tag("Event")
	site, _ := game.Tag("Site")
	whiteElo := intTagOf(game, "WhiteElo")
	blackElo := intTagOf(game, "BlackElo")
	round := intTagOf(game, "Round")
	date, _ := game.Tag("Date")
	year, month, day := parseDateTag(date)

	h := headerstore.Header{
		White: white, Black: black, Event: event, Site: site,
		Year: year, Month: month, Day: day,
		WhiteElo: uint16(whiteElo), BlackElo: uint16(blackElo), Round: uint16(round),
		Ply: len(positions) - 1, Result: result,
	}
	if h.Ply < 0 {
		h.Ply = 0
	}

	if d.opts.ECO != nil && len(positions) > 0 {
		if op := d.opts.ECO.LookupPosition(positions[len(positions)-1].Pos); op != nil {
			if category, index, ok := op.CategoryIndex(); ok {
				h.ECOCategory = category
				h.ECOIndex = index
			}
		}
	}
	return h
}

// intTagOf reads a tag's value as an integer, returning 0 if absent or not
// a valid integer.
func intTagOf(game *pgnreader.Game, name string) int {
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

// parseDateTag parses a PGN "YYYY.MM.DD" date tag, leaving unknown ("?")
// components as zero.
func parseDateTag(tag string) (year uint16, month, day uint8) {
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
