package ingest

import "testing"

func TestReserveCountForBlockMatchesFormula(t *testing.T) {
	// spec §4.6: ceil(blockSize / (bufferSize * minPgnBytesPerMove)) + 1
	if got := reserveCountForBlock(1000, 100, 4); got != 4 {
		t.Fatalf("reserveCountForBlock(1000,100,4) = %d, want 4", got)
	}
	if got := reserveCountForBlock(1, 1000, 4); got != 2 {
		t.Fatalf("reserveCountForBlock(1,1000,4) = %d, want 2", got)
	}
	if got := reserveCountForBlock(0, 1000, 4); got != 1 {
		t.Fatalf("reserveCountForBlock(0,1000,4) = %d, want 1 (zero-size block still reserves the +1)", got)
	}
}

func TestDivideBlocksBalancesBySize(t *testing.T) {
	sized := []sizedArchive{
		{Archive: Archive{Path: "a"}, Size: 100},
		{Archive: Archive{Path: "b"}, Size: 10},
		{Archive: Archive{Path: "c"}, Size: 10},
		{Archive: Archive{Path: "d"}, Size: 80},
	}
	blocks := divideBlocks(sized, 2)
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	var totals [2]int64
	for i, b := range blocks {
		totals[i] = blockByteSize(b)
	}
	diff := totals[0] - totals[1]
	if diff < 0 {
		diff = -diff
	}
	if diff > 30 {
		t.Fatalf("blocks unbalanced: %v", totals)
	}
}

func TestDivideBlocksClampsToArchiveCount(t *testing.T) {
	sized := []sizedArchive{{Archive: Archive{Path: "a"}, Size: 5}}
	blocks := divideBlocks(sized, 8)
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
}
