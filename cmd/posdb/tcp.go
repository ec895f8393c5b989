package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/freeeve/posdb/internal/config"
	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/socket"
)

// tcpCmd implements the "tcp" command (original_source's tcp/tcpImpl):
// serve the socket protocol on port, either with one database per
// connection (opened via the "open"/"create" commands) or, when a path is
// given, one database shared across every connection.
var tcpCmd = &cobra.Command{
	Use:   "tcp [<path>] <port>",
	Short: "Serve the socket protocol over TCP",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTCP,
}

func init() {
	rootCmd.AddCommand(tcpCmd)
}

func runTCP(cmd *cobra.Command, args []string) error {
	var path, portArg string
	if len(args) == 2 {
		path, portArg = args[0], args[1]
	} else {
		portArg = args[0]
	}
	port, err := strconv.ParseUint(portArg, 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("posdb: invalid port %q", portArg)
	}

	cfg := config.Default()
	cfg.LogLevel = logLevel
	log := cfg.Logger()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("posdb: listen: %w", err)
	}

	var srv *socket.Server
	if path != "" {
		ecoDB, err := cfg.LoadECO(log)
		if err != nil {
			ln.Close()
			return err
		}
		handle, err := db.Open(path, cfg.DBOptions(log, ecoDB))
		if err != nil {
			ln.Close()
			return fmt.Errorf("posdb: open %s: %w", path, err)
		}
		defer handle.Close()
		srv = socket.NewServerWithDatabase(ln, log, handle)
	} else {
		srv = socket.NewServer(ln, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Msg("posdb: tcp server listening")
	err = srv.Serve(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("posdb: serve: %w", err)
	}
	log.Info().Msg("posdb: tcp server stopped")
	return nil
}
