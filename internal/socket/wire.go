package socket

import (
	"fmt"

	"github.com/freeeve/posdb/internal/headerstore"
	"github.com/freeeve/posdb/internal/level"
	"github.com/freeeve/posdb/internal/query"
)

// queryWire is the JSON-friendly form of a query.Request (spec §4.7 Input),
// following the same wire/domain split as the teacher's httpapi response
// types: levels, results and categories travel as their String() names
// rather than small integers, so a hand-typed request is readable.
type queryWire struct {
	Roots       []rootWire     `json:"roots"`
	Buckets     []bucketWire   `json:"buckets"`
	Categories  []categoryWire `json:"categories"`
	BucketCount uint32         `json:"bucket_count,omitempty"`
}

type rootWire struct {
	FEN  string `json:"fen"`
	Move string `json:"move,omitempty"`
}

type bucketWire struct {
	Level  string `json:"level"`
	Result string `json:"result"`
}

type categoryWire struct {
	Category     string `json:"category"`
	WantChildren bool   `json:"want_children,omitempty"`
	FetchHeader  bool   `json:"fetch_header,omitempty"`
}

func parseResultName(s string) (level.Result, error) {
	for _, r := range level.Results() {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("socket: unknown result %q", s)
}

func parseCategoryName(s string) (query.Category, error) {
	for _, c := range []query.Category{query.Transpositions, query.Continuations, query.All} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("socket: unknown category %q", s)
}

// toQueryRequest translates w into the domain query.Request, parsing its
// level/result/category names.
func toQueryRequest(w queryWire) (query.Request, error) {
	req := query.Request{BucketCount: w.BucketCount}
	for _, r := range w.Roots {
		req.Roots = append(req.Roots, query.Root{FEN: r.FEN, Move: r.Move})
	}
	for _, b := range w.Buckets {
		lvl, err := level.ParseLevel(b.Level)
		if err != nil {
			return query.Request{}, err
		}
		res, err := parseResultName(b.Result)
		if err != nil {
			return query.Request{}, err
		}
		req.Buckets = append(req.Buckets, query.Bucket{Level: lvl, Result: res})
	}
	for _, c := range w.Categories {
		cat, err := parseCategoryName(c.Category)
		if err != nil {
			return query.Request{}, err
		}
		req.Categories = append(req.Categories, query.CategoryRequest{
			Category:     cat,
			WantChildren: c.WantChildren,
			FetchHeader:  c.FetchHeader,
		})
	}
	return req, nil
}

// headerWire is the JSON-friendly form of a headerstore.Header.
type headerWire struct {
	White       string `json:"white"`
	Black       string `json:"black"`
	Event       string `json:"event"`
	Site        string `json:"site"`
	Year        uint16 `json:"year,omitempty"`
	Month       uint8  `json:"month,omitempty"`
	Day         uint8  `json:"day,omitempty"`
	WhiteElo    uint16 `json:"white_elo,omitempty"`
	BlackElo    uint16 `json:"black_elo,omitempty"`
	Round       uint16 `json:"round,omitempty"`
	ECOCategory uint8  `json:"eco_category,omitempty"`
	ECOIndex    uint8  `json:"eco_index,omitempty"`
	Ply         int    `json:"ply"`
	Result      string `json:"result"`
}

func toHeaderWire(h *headerstore.Header) *headerWire {
	if h == nil {
		return nil
	}
	return &headerWire{
		White: h.White, Black: h.Black, Event: h.Event, Site: h.Site,
		Year: h.Year, Month: h.Month, Day: h.Day,
		WhiteElo: h.WhiteElo, BlackElo: h.BlackElo, Round: h.Round,
		ECOCategory: h.ECOCategory, ECOIndex: h.ECOIndex,
		Ply: h.Ply, Result: h.Result.String(),
	}
}

type entrySummaryWire struct {
	Count           uint64      `json:"count"`
	FirstGameOffset uint64      `json:"first_game_offset,omitempty"`
	HasFirstGame    bool        `json:"has_first_game"`
	FirstGame       *headerWire `json:"first_game,omitempty"`
}

func toEntrySummaryWire(e query.EntrySummary) entrySummaryWire {
	return entrySummaryWire{
		Count:           e.Count,
		FirstGameOffset: e.FirstGameOffset,
		HasFirstGame:    e.HasFirstGame,
		FirstGame:       toHeaderWire(e.FirstGame),
	}
}

type positionResultWire struct {
	Root     entrySummaryWire            `json:"root"`
	Children map[string]entrySummaryWire `json:"children,omitempty"`
}

type bucketResultWire struct {
	Level      string                        `json:"level"`
	Result     string                        `json:"result"`
	Categories map[string]positionResultWire `json:"categories"`
}

type rootResultWire struct {
	FEN     string             `json:"fen"`
	Move    string             `json:"move,omitempty"`
	Buckets []bucketResultWire `json:"buckets"`
}

// queryResponse is the top-level object a "query" command replies with, so
// every command's reply is a JSON object rather than query alone replying
// with a bare array.
type queryResponse struct {
	Results []rootResultWire `json:"results"`
}

// toQueryResponse translates the engine's domain results into their JSON
// wire form.
func toQueryResponse(results []query.RootResult) []rootResultWire {
	out := make([]rootResultWire, 0, len(results))
	for _, rr := range results {
		rw := rootResultWire{FEN: rr.Root.FEN, Move: rr.Root.Move}
		for _, br := range rr.Buckets {
			bw := bucketResultWire{
				Level:      br.Bucket.Level.String(),
				Result:     br.Bucket.Result.String(),
				Categories: make(map[string]positionResultWire, len(br.Categories)),
			}
			for cat, pr := range br.Categories {
				pw := positionResultWire{Root: toEntrySummaryWire(pr.RootEntry)}
				if len(pr.Children) > 0 {
					pw.Children = make(map[string]entrySummaryWire, len(pr.Children))
					for uci, c := range pr.Children {
						pw.Children[uci] = toEntrySummaryWire(c)
					}
				}
				bw.Categories[cat.String()] = pw
			}
			rw.Buckets = append(rw.Buckets, bw)
		}
		out = append(out, rw)
	}
	return out
}

// levelStatsWire is one level's counters in the "stats" response, following
// the original tool's {"num_games":, "num_positions":} shape per level
// (original_source/src/CommandLineTool.cpp handleTcpCommandStats), extended
// with skipped_games since the facade already tracks it.
type levelStatsWire struct {
	NumGames        uint64 `json:"num_games"`
	NumSkippedGames uint64 `json:"num_skipped_games"`
	NumPositions    uint64 `json:"num_positions"`
}
