package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/config"
	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/eco"
	"github.com/freeeve/posdb/internal/ingest"
)

var createMemoryBytes int64

// createCmd implements the "create" command (original_source's create/
// createImpl): import a pgn-list-file's archives into a fresh destination,
// optionally merging it afterward, and optionally staging the import in a
// scratch temporary directory first when one is given.
var createCmd = &cobra.Command{
	Use:   "create <format> <destination> <pgn-list-file> [<temp>]",
	Short: "Import archives into a new database",
	Args:  cobra.RangeArgs(3, 4),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().Int64Var(&createMemoryBytes, "memory", 512<<20, "ingest buffer memory budget in bytes")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	format, destination, listFile := args[0], args[1], args[2]
	if format != db.FormatKey {
		return fmt.Errorf("posdb: unsupported format %q (expected %q)", format, db.FormatKey)
	}
	if err := assertDirEmpty(destination); err != nil {
		return err
	}
	archives, err := parseArchiveListFile(listFile)
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.LogLevel = logLevel
	cfg.MemoryBytes = createMemoryBytes
	log := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ecoDB, err := cfg.LoadECO(log)
	if err != nil {
		return err
	}

	if len(args) == 4 {
		return createViaTemporary(ctx, cfg, log, ecoDB, destination, args[3], archives)
	}

	handle, err := db.Open(destination, cfg.DBOptions(log, ecoDB))
	if err != nil {
		return fmt.Errorf("posdb: open destination: %w", err)
	}
	defer handle.Close()

	stats, err := handle.Import(ctx, archives, cfg.IngestOptions(handle, ecoDB))
	if err != nil {
		return fmt.Errorf("posdb: import: %w", err)
	}
	logImportStats(log, stats)
	return nil
}

// createViaTemporary mirrors original_source's createImpl(key, destination,
// pgns, temp) overload: import into a scratch database, replicate-merge it
// into destination, then clear and recreate the scratch directory.
func createViaTemporary(ctx context.Context, cfg config.Config, log zerolog.Logger, ecoDB *eco.Database, destination, temp string, archives []ingest.Archive) error {
	if err := assertDirEmpty(temp); err != nil {
		return err
	}
	handle, err := db.Open(temp, cfg.DBOptions(log, ecoDB))
	if err != nil {
		return fmt.Errorf("posdb: open temporary: %w", err)
	}
	stats, err := handle.Import(ctx, archives, cfg.IngestOptions(handle, ecoDB))
	if err != nil {
		handle.Close()
		return fmt.Errorf("posdb: import: %w", err)
	}
	if err := handle.OpenAllPartitions(); err != nil {
		handle.Close()
		return fmt.Errorf("posdb: merge: %w", err)
	}
	if err := handle.ReplicateMergeAll(destination, nil); err != nil {
		handle.Close()
		return fmt.Errorf("posdb: replicate merge: %w", err)
	}
	handle.Close()

	if err := os.RemoveAll(temp); err != nil {
		return fmt.Errorf("posdb: clear temporary directory: %w", err)
	}
	if err := os.MkdirAll(temp, 0o755); err != nil {
		return fmt.Errorf("posdb: recreate temporary directory: %w", err)
	}
	logImportStats(log, stats)
	return nil
}
