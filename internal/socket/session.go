package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/ingest"
	"github.com/freeeve/posdb/internal/level"
)

// defaultImportMemory bounds the byte budget ImportOptionsForMemory spends
// across a create/merge command's ingest, absent a caller-tunable knob in
// the wire protocol (the original tool reads this from a config file;
// spec.md does not surface ingest memory as a protocol field).
const defaultImportMemory = 512 << 20

// ErrDatabaseOpen is returned by a command that requires no database open
// on the session (spec §6 "open") when one already is.
var ErrDatabaseOpen = fmt.Errorf("socket: a database is already open on this connection")

// ErrNoDatabaseOpen is returned by a command that requires an open database
// (merge/query/stats) when the session has none.
var ErrNoDatabaseOpen = fmt.Errorf("socket: no database is open on this connection")

// Session is the per-connection state the original tool threads a single
// std::unique_ptr<Database>& through every handler (original_source's
// CommandLineTool.cpp handleTcpCommand*): at most one database is open at a
// time, opened by "open" and closed by "close" or when the connection ends.
// "create" closes the database it builds before replying, and "open" is
// refused while one is already open.
type Session struct {
	id  string
	db  *db.DB
	log zerolog.Logger

	// shared is true when db was preopened by the server and handed to
	// every connection (NewSharedSession); Close then leaves it running
	// instead of closing it out from under other connections, and "open"
	// and "close" are refused so a connection can't detach the server's
	// database.
	shared bool
}

// NewSession starts a fresh session with no database open.
func NewSession(id string, log zerolog.Logger) *Session {
	return &Session{id: id, log: log.With().Str("conn", id).Logger()}
}

// NewSharedSession starts a session against a database the server already
// opened and owns; see Server.NewServerWithDatabase.
func NewSharedSession(id string, log zerolog.Logger, shared *db.DB) *Session {
	return &Session{id: id, log: log.With().Str("conn", id).Logger(), db: shared, shared: true}
}

// Close closes any database left open when the connection ends. A shared
// session's database outlives the connection and is left running.
func (s *Session) Close() error {
	if s.db == nil || s.shared {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type envelope struct {
	Command string `json:"command"`
}

// errorResponse is the shape every failed command reports (spec §6:
// `{"error": "<reason>"}`).
type errorResponse struct {
	Error string `json:"error"`
}

// Handle decodes one frame body, dispatches it by its "command" field, and
// returns the JSON bytes to write back. exit is true when the command was
// "exit", which the caller must treat as a request to close the connection
// without a reply (spec §6: "a command value of exit ... the connection is
// then closed without a reply").
func (s *Session) Handle(ctx context.Context, body []byte) (reply []byte, exit bool, err error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return s.errorReply(fmt.Errorf("socket: malformed request: %w", err)), false, nil
	}
	if env.Command == "exit" {
		return nil, true, nil
	}

	result, herr := s.dispatch(ctx, env.Command, body)
	if herr != nil {
		s.log.Warn().Err(herr).Str("command", env.Command).Msg("socket: command failed")
		return s.errorReply(herr), false, nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("socket: encode response: %w", err)
	}
	return out, false, nil
}

func (s *Session) errorReply(err error) []byte {
	out, merr := json.Marshal(errorResponse{Error: err.Error()})
	if merr != nil {
		return []byte(`{"error":"socket: failed to encode error"}`)
	}
	return out
}

func (s *Session) dispatch(ctx context.Context, command string, body []byte) (any, error) {
	switch command {
	case "create":
		return s.handleCreate(ctx, body)
	case "merge":
		return s.handleMerge(body)
	case "open":
		return s.handleOpen(body)
	case "close":
		return s.handleClose()
	case "query":
		return s.handleQuery(body)
	case "stats":
		return s.handleStats()
	case "dump":
		return s.handleDump(ctx, body)
	default:
		return nil, fmt.Errorf("socket: unknown command %q", command)
	}
}

func (s *Session) requireOpen() error {
	if s.db == nil {
		return ErrNoDatabaseOpen
	}
	return nil
}

func (s *Session) requireClosed() error {
	if s.shared {
		return fmt.Errorf("socket: this connection's database is managed by the server and cannot be replaced")
	}
	if s.db != nil {
		return ErrDatabaseOpen
	}
	return nil
}

// finished is the {"operation": ..., ...} envelope every command reports on
// success, mirroring sendProgressFinished in the original tool.
type finished struct {
	Operation string `json:"operation"`
	Finished  bool   `json:"finished"`
	Stats     any    `json:"stats,omitempty"`
}

func sendFinished(operation string, stats any) finished {
	return finished{Operation: operation, Finished: true, Stats: stats}
}

type createRequest struct {
	DestinationPath string   `json:"destination_path"`
	Merge           bool     `json:"merge"`
	ReportProgress  bool     `json:"report_progress"`
	HumanPGNs       []string `json:"human_pgns"`
	EnginePGNs      []string `json:"engine_pgns"`
	ServerPGNs      []string `json:"server_pgns"`
	DatabaseFormat  string   `json:"database_format"`
	TemporaryPath   string   `json:"temporary_path,omitempty"`
}

func (r createRequest) archives() []ingest.Archive {
	var archives []ingest.Archive
	for _, p := range r.HumanPGNs {
		archives = append(archives, ingest.Archive{Path: p, Level: level.Human})
	}
	for _, p := range r.EnginePGNs {
		archives = append(archives, ingest.Archive{Path: p, Level: level.Engine})
	}
	for _, p := range r.ServerPGNs {
		archives = append(archives, ingest.Archive{Path: p, Level: level.Server})
	}
	return archives
}

// handleCreate implements the "create" command (original_source's
// handleTcpCommandCreate/handleTcpCommandCreateImpl): import archives into
// a fresh destination directory and, if merge is set, compact it, either
// in place or by importing into a scratch temporary directory first and
// replicating the merge into destination, when temporary_path is given.
func (s *Session) handleCreate(ctx context.Context, body []byte) (any, error) {
	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("socket: decode create: %w", err)
	}
	if req.DatabaseFormat != "" && req.DatabaseFormat != db.FormatKey {
		return nil, fmt.Errorf("socket: unsupported database_format %q", req.DatabaseFormat)
	}
	if err := assertDirEmpty(req.DestinationPath); err != nil {
		return nil, err
	}
	archives := req.archives()

	if req.Merge && req.TemporaryPath != "" {
		if err := assertDirEmpty(req.TemporaryPath); err != nil {
			return nil, err
		}
		stats, err := s.importAndReplicateMerge(ctx, req.TemporaryPath, req.DestinationPath, archives)
		if err != nil {
			return nil, err
		}
		if err := os.RemoveAll(req.TemporaryPath); err != nil {
			return nil, fmt.Errorf("socket: clear temporary path: %w", err)
		}
		if err := os.MkdirAll(req.TemporaryPath, 0o755); err != nil {
			return nil, fmt.Errorf("socket: recreate temporary path: %w", err)
		}
		return sendFinished("create", statsToWire(stats)), nil
	}

	handle, err := db.Open(req.DestinationPath, db.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("socket: open destination: %w", err)
	}
	defer handle.Close()
	stats, err := handle.Import(ctx, archives, handle.ImportOptionsForMemory(runtime.NumCPU(), defaultImportMemory))
	if err != nil {
		return nil, fmt.Errorf("socket: import: %w", err)
	}
	if req.Merge {
		if err := handle.OpenAllPartitions(); err != nil {
			return nil, fmt.Errorf("socket: merge: %w", err)
		}
		if err := handle.MergeAll(nil); err != nil {
			return nil, fmt.Errorf("socket: merge: %w", err)
		}
	}
	return sendFinished("create", statsToWire(stats)), nil
}

func (s *Session) importAndReplicateMerge(ctx context.Context, tempDir, destDir string, archives []ingest.Archive) (*ingest.Stats, error) {
	handle, err := db.Open(tempDir, db.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("socket: open temporary: %w", err)
	}
	defer handle.Close()
	stats, err := handle.Import(ctx, archives, handle.ImportOptionsForMemory(runtime.NumCPU(), defaultImportMemory))
	if err != nil {
		return nil, fmt.Errorf("socket: import: %w", err)
	}
	if err := handle.OpenAllPartitions(); err != nil {
		return nil, fmt.Errorf("socket: merge: %w", err)
	}
	if err := handle.ReplicateMergeAll(destDir, nil); err != nil {
		return nil, fmt.Errorf("socket: replicate merge: %w", err)
	}
	return stats, nil
}

type mergeRequest struct {
	DestinationPath string `json:"destination_path,omitempty"`
	ReportProgress  bool   `json:"report_progress"`
}

// handleMerge implements the "merge" command against the session's
// currently open database: in place, or replicated into destination_path
// when given (original_source's handleTcpCommandMerge).
func (s *Session) handleMerge(body []byte) (any, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	var req mergeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("socket: decode merge: %w", err)
	}
	if err := s.db.OpenAllPartitions(); err != nil {
		return nil, fmt.Errorf("socket: merge: %w", err)
	}
	if req.DestinationPath != "" {
		if err := assertDirEmpty(req.DestinationPath); err != nil {
			return nil, err
		}
		if err := s.db.ReplicateMergeAll(req.DestinationPath, nil); err != nil {
			return nil, fmt.Errorf("socket: replicate merge: %w", err)
		}
	} else if err := s.db.MergeAll(nil); err != nil {
		return nil, fmt.Errorf("socket: merge: %w", err)
	}
	return sendFinished("merge", nil), nil
}

type openRequest struct {
	DatabasePath string `json:"database_path"`
}

// handleOpen implements the "open" command: it refuses to replace an
// already-open database (original_source's assertNoDatabaseOpen).
func (s *Session) handleOpen(body []byte) (any, error) {
	if err := s.requireClosed(); err != nil {
		return nil, err
	}
	var req openRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("socket: decode open: %w", err)
	}
	handle, err := db.Open(req.DatabasePath, db.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("socket: open: %w", err)
	}
	s.db = handle
	return sendFinished("open", nil), nil
}

// handleClose implements the "close" command: it is unconditional, the
// same as the original tool's db.reset() regardless of whether a database
// was open.
func (s *Session) handleClose() (any, error) {
	if s.shared {
		return nil, fmt.Errorf("socket: this connection's database is managed by the server and cannot be closed")
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return nil, fmt.Errorf("socket: close: %w", err)
		}
		s.db = nil
	}
	return sendFinished("close", nil), nil
}

// handleQuery implements the "query" command (spec §4.7).
func (s *Session) handleQuery(body []byte) (any, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	var env struct {
		Query queryWire `json:"query"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("socket: decode query: %w", err)
	}
	req, err := toQueryRequest(env.Query)
	if err != nil {
		return nil, err
	}
	results, err := s.db.Query(req)
	if err != nil {
		return nil, fmt.Errorf("socket: query: %w", err)
	}
	return queryResponse{Results: toQueryResponse(results)}, nil
}

// handleStats implements the "stats" command, reporting the same
// per-level {"num_games", "num_positions"} shape as the original tool
// (handleTcpCommandStats), one entry per level.String().
func (s *Session) handleStats() (any, error) {
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	snap := s.db.Stats()
	out := make(map[string]levelStatsWire, len(level.Levels()))
	for _, lvl := range level.Levels() {
		ls := snap[lvl]
		out[lvl.String()] = levelStatsWire{
			NumGames:        ls.Games,
			NumSkippedGames: ls.SkippedGames,
			NumPositions:    ls.Positions,
		}
	}
	return out, nil
}

func assertDirEmpty(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("socket: read directory %s: %w", path, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("socket: directory %s is not empty", path)
	}
	return nil
}

func statsToWire(stats *ingest.Stats) map[string]levelStatsWire {
	out := make(map[string]levelStatsWire, len(stats.PerLevel))
	for lvl, ls := range stats.PerLevel {
		out[lvl.String()] = levelStatsWire{NumGames: ls.Games, NumSkippedGames: ls.SkippedGames, NumPositions: ls.Positions}
	}
	return out
}
