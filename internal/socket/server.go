package socket

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/posdb/internal/db"
)

// Server accepts TCP connections and runs one Session per connection (spec
// §6: the socket protocol is served over a single TCP listener; the tool's
// `tcp <port>` mode spoken of in original_source's main()).
type Server struct {
	ln     net.Listener
	log    zerolog.Logger
	shared *db.DB
}

// NewServer wraps an already-bound listener. Each connection starts with no
// database open, matching the newer handleTcpCommand* dispatch (one open
// database per connection, via the "open"/"create" commands).
func NewServer(ln net.Listener, log zerolog.Logger) *Server {
	return &Server{ln: ln, log: log}
}

// NewServerWithDatabase wraps an already-bound listener around a database
// opened once up front and shared by every connection (original_source's
// older `tcp <path> <port>` mode, which loads one database before starting
// the listener). Concurrent connections issuing writes against it race
// exactly as the spec's Non-goals anticipate ("no transactional isolation");
// callers that need isolation should run one database per connection via
// NewServer and the "open"/"create" commands instead.
func NewServerWithDatabase(ln net.Listener, log zerolog.Logger, shared *db.DB) *Server {
	return &Server{ln: ln, log: log, shared: shared}
}

// Serve accepts connections until ctx is done or the listener errors,
// handling each one in its own goroutine. It always returns a non-nil
// error; context.Canceled means a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	log := s.log.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("socket: connection opened")
	defer conn.Close()

	var session *Session
	if s.shared != nil {
		session = NewSharedSession(id, log, s.shared)
	} else {
		session = NewSession(id, log)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("socket: error closing session database")
		}
	}()

	for {
		body, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Info().Err(err).Msg("socket: connection closed")
			}
			return
		}

		reply, exit, err := session.Handle(ctx, body)
		if err != nil {
			log.Error().Err(err).Msg("socket: internal error handling frame")
			return
		}
		if exit {
			return
		}
		if err := WriteFrame(conn, reply); err != nil {
			log.Info().Err(err).Msg("socket: write failed, closing connection")
			return
		}
	}
}
