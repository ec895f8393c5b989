package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/bcgn"
	"github.com/freeeve/posdb/internal/pgnreader"
)

// countGamesCmd implements the "count_games" command (original_source's
// countGames/countPgnGames/countBcgnGames): count the games in a single PGN
// or BCGN archive, reporting progress every 100,000 games.
var countGamesCmd = &cobra.Command{
	Use:   "count_games <path>",
	Short: "Count the games in a PGN or BCGN archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runCountGames,
}

func init() {
	rootCmd.AddCommand(countGamesCmd)
}

const countGamesReportEvery = 100000

func runCountGames(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("posdb: open %s: %w", path, err)
	}
	defer f.Close()

	var total int
	switch filepath.Ext(path) {
	case ".pgn":
		total, err = countPGNGames(f)
	case ".bcgn":
		total, err = countBCGNGames(f)
	default:
		return fmt.Errorf("posdb: count_games requires a .pgn or .bcgn path")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Found %d games...\n", total)
	return nil
}

func countPGNGames(src io.Reader) (int, error) {
	reader := pgnreader.NewReader(src)
	total := 0
	for {
		_, err := reader.NextGame()
		if err != nil {
			return total, nil
		}
		total++
		if total%countGamesReportEvery == 0 {
			fmt.Printf("Found %d games...\n", total)
		}
	}
}

func countBCGNGames(src io.Reader) (int, error) {
	reader, err := bcgn.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("posdb: read bcgn header: %w", err)
	}
	total := 0
	for {
		_, err := reader.NextRecord()
		if err != nil {
			return total, nil
		}
		total++
		if total%countGamesReportEvery == 0 {
			fmt.Printf("Found %d games...\n", total)
		}
	}
}
