package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/config"
	"github.com/freeeve/posdb/internal/db"
)

// mergeCmd implements the "merge" command (original_source's merge/
// mergeImpl): compact an existing database's runs in place, or replicate
// the merge into a fresh destination directory when one is given.
var mergeCmd = &cobra.Command{
	Use:   "merge <path> [<destination>]",
	Short: "Merge an existing database's sorted runs",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.LogLevel = logLevel
	log := cfg.Logger()

	handle, err := db.Open(args[0], cfg.DBOptions(log, nil))
	if err != nil {
		return fmt.Errorf("posdb: open %s: %w", args[0], err)
	}
	defer handle.Close()

	if err := handle.OpenAllPartitions(); err != nil {
		return fmt.Errorf("posdb: merge: %w", err)
	}

	if len(args) == 2 {
		if err := assertDirEmpty(args[1]); err != nil {
			return err
		}
		if err := handle.ReplicateMergeAll(args[1], nil); err != nil {
			return fmt.Errorf("posdb: replicate merge: %w", err)
		}
		log.Info().Str("from", args[0]).Str("to", args[1]).Msg("posdb: merge complete")
		return nil
	}

	if err := handle.MergeAll(nil); err != nil {
		return fmt.Errorf("posdb: merge: %w", err)
	}
	log.Info().Str("path", args[0]).Msg("posdb: merge complete")
	return nil
}
