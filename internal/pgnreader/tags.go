package pgnreader

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/freeeve/posdb/internal/level"
)

// RecognizedTags lists the tag names the reader consumes directly (spec
// §4.1.1: "Only recognized tags it consumes directly are Result, Date,
// White, Black, Event, Site, Round, WhiteElo, BlackElo, ECO, FEN,
// PlyCount").
var RecognizedTags = []string{
	"Result", "Date", "White", "Black", "Event", "Site", "Round",
	"WhiteElo", "BlackElo", "ECO", "FEN", "PlyCount",
}

// Tag looks up name's quoted value inside tagRegion by locating the
// substring `[Name "` and reading until the closing quote (spec §4.1.1:
// "Tag access is by name lookup inside the tag region").
func Tag(tagRegion []byte, name string) (string, bool) {
	needle := []byte("[" + name + " \"")
	idx := bytes.Index(tagRegion, needle)
	if idx < 0 {
		return "", false
	}
	start := idx + len(needle)
	end := bytes.IndexByte(tagRegion[start:], '"')
	if end < 0 {
		return "", false
	}
	return string(tagRegion[start : start+end]), true
}

// ResultTag decodes the Result tag into a level.Result, reporting false if
// the tag is absent or holds an unfinished/unknown result ("*").
func ResultTag(tagRegion []byte) (level.Result, bool) {
	v, ok := Tag(tagRegion, "Result")
	if !ok {
		return 0, false
	}
	res, err := level.ParseResultTag(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return res, true
}

// IntTag reads a tag's value as an integer, reporting false if the tag is
// absent or not a valid integer (used for WhiteElo/BlackElo/PlyCount/Round).
func IntTag(tagRegion []byte, name string) (int, bool) {
	v, ok := Tag(tagRegion, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// FENTag returns the FEN tag's value, if present (spec §4.1.1: the reader
// starts from this position instead of the standard start position when
// present).
func FENTag(tagRegion []byte) (string, bool) {
	return Tag(tagRegion, "FEN")
}
