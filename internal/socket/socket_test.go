package socket_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/socket"
)

const singleGamePGN = `[Event "Test"]
[Site "?"]
[Date "2024.01.01"]
[Round "1"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Nf3 Nc6 1-0
`

func writePGN(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, socket.WriteFrame(&buf, []byte(`{"command":"exit"}`)))

	body, err := socket.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, `{"command":"exit"}`, string(body))
}

func TestReadFrameRejectsBadCheckWord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, socket.WriteFrame(&buf, []byte("hello")))
	corrupt := buf.Bytes()
	corrupt[4] ^= 0xFF

	_, err := socket.ReadFrame(bytes.NewReader(corrupt))
	require.ErrorIs(t, err, socket.ErrFrameCheckFailed)
}

// sendCommand frames req, writes it to conn, and returns the decoded reply.
func sendCommand(t *testing.T, conn net.Conn, req any) map[string]any {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, socket.WriteFrame(conn, body))

	reply, err := socket.ReadFrame(conn)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(reply, &out))
	return out
}

func startServer(t *testing.T) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := socket.NewServer(ln, zerolog.Nop())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerCreateQueryStatsAndClose(t *testing.T) {
	conn := startServer(t)

	archDir := t.TempDir()
	pgnPath := writePGN(t, archDir, "sample.pgn", singleGamePGN)
	dbDir := filepath.Join(t.TempDir(), "db")

	created := sendCommand(t, conn, map[string]any{
		"command":          "create",
		"destination_path": dbDir,
		"merge":            false,
		"report_progress":  false,
		"human_pgns":       []string{pgnPath},
		"engine_pgns":      []string{},
		"server_pgns":      []string{},
	})
	require.Equal(t, "create", created["operation"])
	require.Equal(t, true, created["finished"])
	require.Nil(t, created["error"])

	opened := sendCommand(t, conn, map[string]any{"command": "open", "database_path": dbDir})
	require.Equal(t, "open", opened["operation"])

	queried := sendCommand(t, conn, map[string]any{
		"command": "query",
		"query": map[string]any{
			"roots": []map[string]any{
				{"fen": "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", "move": "e4"},
			},
			"buckets": []map[string]any{
				{"level": "human", "result": "white-win"},
			},
			"categories": []map[string]any{
				{"category": "transpositions"},
			},
		},
	})
	require.Nil(t, queried["error"])

	stats := sendCommand(t, conn, map[string]any{"command": "stats"})
	require.Nil(t, stats["error"])
	human, ok := stats["human"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, human["num_games"])

	closed := sendCommand(t, conn, map[string]any{"command": "close"})
	require.Equal(t, "close", closed["operation"])

	// Querying again with nothing open reports an error, not a crash.
	failed := sendCommand(t, conn, map[string]any{
		"command": "query",
		"query":   map[string]any{},
	})
	require.NotNil(t, failed["error"])
}

func TestServerUnknownCommandReportsError(t *testing.T) {
	conn := startServer(t)
	resp := sendCommand(t, conn, map[string]any{"command": "frobnicate"})
	require.NotNil(t, resp["error"])
}

func TestServerDumpWritesFENsAboveMinCount(t *testing.T) {
	conn := startServer(t)

	archDir := t.TempDir()
	pgn1 := writePGN(t, archDir, "a.pgn", singleGamePGN)
	pgn2 := writePGN(t, archDir, "b.pgn", singleGamePGN)
	out := filepath.Join(t.TempDir(), "out.epd")

	resp := sendCommand(t, conn, map[string]any{
		"command":     "dump",
		"pgns":        []string{pgn1, pgn2},
		"output_path": out,
		"min_count":   2,
	})
	require.Nil(t, resp["error"])
	require.Equal(t, "dump", resp["operation"])

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), ";\n")
}

func TestExitClosesConnectionWithoutReply(t *testing.T) {
	conn := startServer(t)
	require.NoError(t, socket.WriteFrame(conn, []byte(`{"command":"exit"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := socket.ReadFrame(conn)
	require.Error(t, err)
}
