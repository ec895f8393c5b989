package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/bcgn"
	"github.com/freeeve/posdb/internal/pgnreader"
)

// benchCmd implements the "bench" command (original_source's bench/
// benchReader): read an archive twice as warmup, then time a third read and
// report games/s, positions/s and MB/s throughput.
var benchCmd = &cobra.Command{
	Use:   "bench <path>",
	Short: "Benchmark reading a PGN or BCGN archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("posdb: stat %s: %w", path, err)
	}
	size := info.Size()
	fmt.Printf("File size: %d\n", size)

	var walk func(string) (games, positions int, err error)
	switch filepath.Ext(path) {
	case ".pgn":
		walk = walkPGN
	case ".bcgn":
		walk = walkBCGN
	default:
		return fmt.Errorf("posdb: bench requires a .pgn or .bcgn path")
	}

	for i := 0; i < 2; i++ {
		if _, _, err := walk(path); err != nil {
			return fmt.Errorf("posdb: warmup %d: %w", i, err)
		}
		fmt.Printf("warmup %d finished\n", i)
	}

	t0 := time.Now()
	games, positions, err := walk(path)
	if err != nil {
		return fmt.Errorf("posdb: timed read: %w", err)
	}
	elapsed := time.Since(t0).Seconds()

	fmt.Printf("%d games in %.3fs\n", games, elapsed)
	fmt.Printf("%d games/s\n", int64(float64(games)/elapsed))
	fmt.Printf("%d positions in %.3fs\n", positions, elapsed)
	fmt.Printf("%d positions/s\n", int64(float64(positions)/elapsed))
	fmt.Printf("Throughput of %.3f MB/s\n", float64(size)/elapsed/1e6)
	return nil
}

func walkPGN(path string) (games, positions int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader := pgnreader.NewReader(f)
	for {
		raw, err := reader.NextGame()
		if err != nil {
			return games, positions, nil
		}
		game := pgnreader.NewGame(*raw)
		pos, _, err := game.Positions()
		if err != nil {
			return games, positions, nil
		}
		games++
		positions += len(pos)
	}
}

func walkBCGN(path string) (games, positions int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader, err := bcgn.NewReader(f)
	if err != nil {
		return 0, 0, err
	}
	for {
		rec, err := reader.NextRecord()
		if err != nil {
			return games, positions, nil
		}
		games++
		positions += len(rec.Moves) + 1
	}
}
