package ingest

import (
	"fmt"
	"os"
	"sort"
)

// sizedArchive pairs an Archive with its on-disk byte size, used to balance
// blocks and to size per-block id pre-reservation (spec §4.6).
type sizedArchive struct {
	Archive
	Size int64
}

// sizedArchives stats each archive's file size. For a compressed archive
// (.pgn.zst) the compressed size is used as the balancing proxy; it
// understates the archive's uncompressed byte count, but blocks only need
// to be approximately equal, not exact (spec §4.6: "blocks of approximately
// equal byte size").
func sizedArchives(archives []Archive) ([]sizedArchive, error) {
	out := make([]sizedArchive, 0, len(archives))
	for _, a := range archives {
		info, err := os.Stat(a.Path)
		if err != nil {
			return nil, fmt.Errorf("ingest: stat %s: %w", a.Path, err)
		}
		out = append(out, sizedArchive{Archive: a, Size: info.Size()})
	}
	return out, nil
}

// divideBlocks splits sized into at most numBlocks groups of approximately
// equal total byte size, using longest-processing-time-first bin packing:
// archives are placed largest-first into whichever block currently holds
// the least total (spec §4.6: "the inputs are divided into blocks of
// approximately equal byte size").
func divideBlocks(sized []sizedArchive, numBlocks int) [][]sizedArchive {
	if numBlocks < 1 {
		numBlocks = 1
	}
	if numBlocks > len(sized) {
		numBlocks = len(sized)
	}
	if numBlocks == 0 {
		return nil
	}

	ordered := make([]sizedArchive, len(sized))
	copy(ordered, sized)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Size > ordered[j].Size })

	blocks := make([][]sizedArchive, numBlocks)
	totals := make([]int64, numBlocks)
	for _, a := range ordered {
		min := 0
		for i := 1; i < numBlocks; i++ {
			if totals[i] < totals[min] {
				min = i
			}
		}
		blocks[min] = append(blocks[min], a)
		totals[min] += a.Size
	}

	nonEmpty := blocks[:0]
	for _, b := range blocks {
		if len(b) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	return nonEmpty
}

// blockByteSize sums a block's archive sizes.
func blockByteSize(block []sizedArchive) int64 {
	var total int64
	for _, a := range block {
		total += a.Size
	}
	return total
}

// reserveCountForBlock computes how many run ids a block must pre-reserve
// in each of its destination partitions so that, once sorted, runs across
// blocks remain id-ordered (spec §4.6 exact formula: "given
// minPgnBytesPerMove = 4, each block reserves
// ceil(blockSize / (bufferSize * 4)) + 1 ids in each destination
// partition").
func reserveCountForBlock(blockSize int64, bufferSize, minPGNBytesPerMove int) int {
	denom := int64(bufferSize) * int64(minPGNBytesPerMove)
	if denom <= 0 {
		denom = 1
	}
	n := (blockSize + denom - 1) / denom // ceil division
	return int(n) + 1
}
