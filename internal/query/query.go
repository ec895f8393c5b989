// Package query implements the read-only query engine (spec §4.7): given a
// batch of root positions and a set of (level, result) partitions to
// consult, it derives continuation/transposition/all lookups, queries each
// partition's sparse range index, aggregates counts and first-game offsets,
// and optionally hydrates first-game headers.
package query

import (
	"fmt"

	"github.com/freeeve/posdb/internal/chess"
	"github.com/freeeve/posdb/internal/entrykey"
	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/partition"
)

// Category selects how a position's arrivals are counted (spec §4.7:
// "transpositions uses key-without-reverse-move; continuations uses the
// reverse-move-included key; all is the union").
type Category uint8

const (
	// Transpositions counts every arrival at a position regardless of the
	// move that reached it.
	Transpositions Category = iota
	// Continuations counts only arrivals via one specific predecessor move.
	Continuations
	// All reports the most inclusive (transposition-style) view for both
	// the root and its children; see the "All category" decision in
	// DESIGN.md for why this package does not attempt to merge the two
	// counting semantics into one number.
	All
)

func (c Category) String() string {
	switch c {
	case Transpositions:
		return "transpositions"
	case Continuations:
		return "continuations"
	case All:
		return "all"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Bucket identifies one (level, result) partition to consult. The hash
// bucket within it is derived from each position's hash, not specified
// here (spec §4.6: "hash mod P").
type Bucket struct {
	Level  level.Level
	Result level.Result
}

// Root is one query input: an effective position expressed as a FEN plus
// an optional move applied to it (spec §4.7: "(fen, optional-move)").
type Root struct {
	FEN  string
	Move string // SAN, empty for none
}

// CategoryRequest asks the engine to compute one Category for every root,
// optionally enumerating children and hydrating first-game headers.
type CategoryRequest struct {
	Category     Category
	WantChildren bool
	FetchHeader  bool
}

// Request is one query batch (spec §4.7 Input).
type Request struct {
	Roots      []Root
	Buckets    []Bucket
	Categories []CategoryRequest
	// BucketCount is the hash-modulo bucket count (P) positions were
	// classified under at ingest time; 1 (the default single-partition
	// format) if unset.
	BucketCount uint32
}

// EntrySummary is one position's aggregated result within one bucket
// (spec §4.7 step 5: "count = Σ(end−begin) ... first-game offset = the
// minimum offset across ranges"). Only a first-game header is tracked: the
// packed payload format this engine queries keeps a single minimum offset
// per entry (internal/partition.Payload), not a separate last-game offset,
// so "last game" hydration (spec §4.7 step 6) has nothing to hydrate from
// and is omitted (see DESIGN.md).
type EntrySummary struct {
	Count           uint64
	FirstGameOffset uint64
	HasFirstGame    bool
	FirstGame       *headerstore.Header
}

// PositionResult is one (root-or-child, category) result: the root's own
// entry plus, if requested, its children keyed by the UCI move that reaches
// them from the root.
type PositionResult struct {
	RootEntry EntrySummary
	Children  map[string]EntrySummary
}

// BucketResult is one root's result within one (level, result) bucket,
// broken out per requested category (spec §4.7 step 5: "Aggregate per
// (root, child, level, result)").
type BucketResult struct {
	Bucket     Bucket
	Categories map[Category]PositionResult
}

// RootResult is one root position's complete result across every
// requested bucket.
type RootResult struct {
	Root    Root
	Buckets []BucketResult
}

// PartitionLookup returns the partition for bucket's (level, result),
// hashBucket's hash-modulo bucket (spec §4.6: "hash mod P", the same
// classification ingest used), and withMove, or ok=false if it has never
// been opened (queries against it then report a zero EntrySummary rather
// than erroring, matching "keys not found produce a zero-width range").
type PartitionLookup func(bucket Bucket, hashBucket uint32, withMove bool) (*partition.Partition, bool)

// HeaderLookup returns the header store for lvl, or ok=false if it has
// never been opened.
type HeaderLookup func(lvl level.Level) (*headerstore.Store, bool)

// Engine answers Requests against partitions and header stores supplied by
// the database facade (internal/db), which owns their lifecycle.
type Engine struct {
	partitions PartitionLookup
	headers    HeaderLookup
	// BeforeQuery, if set, is called once per Query to let the facade
	// flush any in-flight writer so the query sees committed state (spec
	// §4.7: "it may trigger a flush of any in-flight writer before
	// reading").
	BeforeQuery func() error
}

// NewEngine builds an Engine over the given partition/header-store
// lookups.
func NewEngine(partitions PartitionLookup, headers HeaderLookup) *Engine {
	return &Engine{partitions: partitions, headers: headers}
}

// Query runs req's pipeline (spec §4.7 steps 1-6) and returns one
// RootResult per req.Roots, in order.
func (e *Engine) Query(req Request) ([]RootResult, error) {
	if e.BeforeQuery != nil {
		if err := e.BeforeQuery(); err != nil {
			return nil, fmt.Errorf("query: flush before query: %w", err)
		}
	}

	results := make([]RootResult, len(req.Roots))
	for i, root := range req.Roots {
		rr, err := e.queryRoot(req, root)
		if err != nil {
			return nil, fmt.Errorf("query: root %d: %w", i, err)
		}
		results[i] = rr
	}
	return results, nil
}

type child struct {
	uci  string
	hash entrykey.Hash
	move chess.PackedMove
}

func (e *Engine) queryRoot(req Request, root Root) (RootResult, error) {
	pos, err := chess.FromFEN(root.FEN)
	if err != nil {
		return RootResult{}, fmt.Errorf("parse fen %q: %w", root.FEN, err)
	}

	var rootMove chess.PackedMove
	if root.Move != "" {
		mv, err := chess.ParseSAN(pos, root.Move)
		if err != nil {
			return RootResult{}, fmt.Errorf("parse move %q: %w", root.Move, err)
		}
		next := chess.Clone(pos)
		if err := chess.Apply(next, mv); err != nil {
			return RootResult{}, fmt.Errorf("apply move %q: %w", root.Move, err)
		}
		pos = next
		rootMove = chess.PackMove(mv)
	}
	rootHash := entrykey.HashPosition(pos)

	wantChildren := false
	for _, cr := range req.Categories {
		if cr.WantChildren {
			wantChildren = true
			break
		}
	}
	var children []child
	if wantChildren {
		for _, mv := range chess.LegalMoves(pos) {
			next := chess.Clone(pos)
			if err := chess.Apply(next, mv); err != nil {
				continue
			}
			packed := chess.PackMove(mv)
			children = append(children, child{
				uci:  packed.ToUCI(),
				hash: entrykey.HashPosition(next),
				move: packed,
			})
		}
	}

	rr := RootResult{Root: root}
	for _, bucket := range req.Buckets {
		br := BucketResult{Bucket: bucket, Categories: make(map[Category]PositionResult, len(req.Categories))}
		for _, cr := range req.Categories {
			pr := PositionResult{}
			pr.RootEntry = e.queryEntry(req, bucket, rootHash, rootMove, categoryUsesMove(cr.Category))

			if cr.WantChildren {
				pr.Children = make(map[string]EntrySummary, len(children))
				for _, c := range children {
					withMove := cr.Category == Continuations
					var mv chess.PackedMove
					if withMove {
						mv = c.move
					}
					pr.Children[c.uci] = e.queryEntry(req, bucket, c.hash, mv, withMove)
				}
			}
			br.Categories[cr.Category] = pr
		}

		if err := e.hydrateHeaders(bucket, req.Categories, &br); err != nil {
			return RootResult{}, err
		}
		rr.Buckets = append(rr.Buckets, br)
	}
	return rr, nil
}

// categoryUsesMove reports whether category's root-entry lookup should use
// the continuation (WithMove=true) partition. Transpositions and All both
// take the more inclusive, move-agnostic view (see the Category doc
// comment and DESIGN.md).
func categoryUsesMove(c Category) bool { return c == Continuations }

// queryEntry looks up one position's aggregated count/first-offset within
// bucket, against the continuation partition if withMove, else the
// transposition partition.
func (e *Engine) queryEntry(req Request, bucket Bucket, hash entrykey.Hash, move chess.PackedMove, withMove bool) EntrySummary {
	hashBucket := hashToBucket(hash, req.BucketCount)
	part, ok := e.partitions(bucket, hashBucket, withMove)
	if !ok {
		return EntrySummary{}
	}
	key := entrykey.NewKey(hash, move, bucket.Level, bucket.Result)
	payload := part.QueryRanges(key)
	return EntrySummary{
		Count:           payload.Count,
		FirstGameOffset: payload.Offset,
		HasFirstGame:    payload.OffsetValid,
	}
}

// hashToBucket classifies a position hash into one of buckets buckets,
// matching internal/ingest's classification (spec §4.6: "hash mod P"); 0
// when buckets is unset or 1 (the default single-partition format).
func hashToBucket(h entrykey.Hash, buckets uint32) uint32 {
	if buckets <= 1 {
		return 0
	}
	return h[3] % buckets
}

// hydrateHeaders collects every distinct first-game offset referenced by
// br's categories that requested header fetching and attaches the
// deserialized header to each matching EntrySummary (spec §4.7 step 6).
func (e *Engine) hydrateHeaders(bucket Bucket, categories []CategoryRequest, br *BucketResult) error {
	fetch := make(map[Category]bool, len(categories))
	for _, cr := range categories {
		if cr.FetchHeader {
			fetch[cr.Category] = true
		}
	}
	if len(fetch) == 0 {
		return nil
	}
	hs, ok := e.headers(bucket.Level)
	if !ok {
		return nil
	}

	offsets := make(map[uint64]bool)
	for cat := range fetch {
		pr := br.Categories[cat]
		if pr.RootEntry.HasFirstGame {
			offsets[pr.RootEntry.FirstGameOffset] = true
		}
		for _, c := range pr.Children {
			if c.HasFirstGame {
				offsets[c.FirstGameOffset] = true
			}
		}
	}
	if len(offsets) == 0 {
		return nil
	}

	ordered := make([]uint64, 0, len(offsets))
	for off := range offsets {
		ordered = append(ordered, off)
	}
	headers, err := hs.Query(ordered)
	if err != nil {
		return fmt.Errorf("hydrate headers: %w", err)
	}
	byOffset := make(map[uint64]*headerstore.Header, len(ordered))
	for i, off := range ordered {
		h := headers[i]
		byOffset[off] = &h
	}

	for cat := range fetch {
		pr := br.Categories[cat]
		if pr.RootEntry.HasFirstGame {
			pr.RootEntry.FirstGame = byOffset[pr.RootEntry.FirstGameOffset]
		}
		for move, c := range pr.Children {
			if c.HasFirstGame {
				c.FirstGame = byOffset[c.FirstGameOffset]
				pr.Children[move] = c
			}
		}
		br.Categories[cat] = pr
	}
	return nil
}
