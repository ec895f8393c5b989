// Package level defines the small, fixed-cardinality enumerations used to
// bucket stored entries: the level a game was played/generated at, and its
// result from the side-to-move-agnostic perspective the store keys on.
package level

import "fmt"

// Level identifies the provenance of a game: whether it was played by
// humans, generated by an engine, or produced by a server (e.g. correspondence
// or tournament infrastructure).
type Level uint8

const (
	Human Level = iota
	Engine
	Server

	numLevels = 3
)

// Ordinal returns the small dense integer identifying this level, suitable
// for use as an array index.
func (l Level) Ordinal() int { return int(l) }

// LevelFromOrdinal maps an ordinal back to a Level.
func LevelFromOrdinal(i int) (Level, error) {
	if i < 0 || i >= numLevels {
		return 0, fmt.Errorf("level: ordinal %d out of range", i)
	}
	return Level(i), nil
}

// Levels returns every Level value, in ordinal order.
func Levels() []Level { return []Level{Human, Engine, Server} }

func (l Level) String() string {
	switch l {
	case Human:
		return "human"
	case Engine:
		return "engine"
	case Server:
		return "server"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel parses a level name as produced by String.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "human":
		return Human, nil
	case "engine":
		return Engine, nil
	case "server":
		return Server, nil
	default:
		return 0, fmt.Errorf("level: unknown level %q", s)
	}
}

// Result is the outcome of a game, independent of which side experienced it:
// the store's key carries the result as recorded in the archive's Result tag.
type Result uint8

const (
	WhiteWin Result = iota
	BlackLoss
	Draw

	numResults = 3
)

// Ordinal returns the small dense integer identifying this result.
func (r Result) Ordinal() int { return int(r) }

// ResultFromOrdinal maps an ordinal back to a Result.
func ResultFromOrdinal(i int) (Result, error) {
	if i < 0 || i >= numResults {
		return 0, fmt.Errorf("level: result ordinal %d out of range", i)
	}
	return Result(i), nil
}

// Results returns every Result value, in ordinal order.
func Results() []Result { return []Result{WhiteWin, BlackLoss, Draw} }

func (r Result) String() string {
	switch r {
	case WhiteWin:
		return "white-win"
	case BlackLoss:
		return "black-loss"
	case Draw:
		return "draw"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// ErrUnknownResult is returned by ParseResultTag when the archive's Result
// tag does not describe a decisive-or-draw outcome (e.g. "*" for an
// unfinished game). Games with unknown results are skipped at ingest.
var ErrUnknownResult = fmt.Errorf("level: unknown or unfinished result")

// ParseResultTag decodes a PGN/BCGN "Result" value ("1-0", "0-1", "1/2-1/2")
// into a Result. Any other value (including "*") returns ErrUnknownResult.
func ParseResultTag(tag string) (Result, error) {
	switch tag {
	case "1-0":
		return WhiteWin, nil
	case "0-1":
		return BlackLoss, nil
	case "1/2-1/2", "1/2 - 1/2":
		return Draw, nil
	default:
		return 0, ErrUnknownResult
	}
}
