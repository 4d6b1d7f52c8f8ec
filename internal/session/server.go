package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/arcfile/logos/internal/protocol"
	"github.com/arcfile/logos/internal/serverstore"
)

// Server serves the Logos wire protocol over WebSocket connections
// (spec.md §6: `GET /health`, `GET /ws/client`), backed by a shared
// serverstore.Directory.
type Server struct {
	dir        *serverstore.Directory
	uploadsDir string
	logger     *slog.Logger

	mux *http.ServeMux
}

// NewServer builds the HTTP mux; callers wrap it in an *http.Server for
// listen/serve and graceful shutdown (cmd/logos-server).
func NewServer(dir *serverstore.Directory, uploadsDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{dir: dir, uploadsDir: uploadsDir, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws/client", s.handleClient)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// pingInterval keeps idle connections alive through intermediary proxies,
// matching the teacher's preference for explicit liveness over relying on
// TCP keepalive alone.
const pingInterval = 30 * time.Second

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("session: websocket accept failed", slog.String("error", err.Error()))
		return
	}

	sess := New(s.dir, s.uploadsDir, s.logger)
	defer sess.Close()

	s.logger.Info("session: client connected", slog.String("client_id", sess.ID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.receiveLoop(gctx, conn, sess) })
	g.Go(func() error { return s.sendPump(gctx, conn, sess) })
	g.Go(func() error { return pingLoop(gctx, conn) })

	if err := g.Wait(); err != nil && !isNormalClosure(err) {
		s.logger.Warn("session: connection ended",
			slog.String("client_id", sess.ID),
			slog.String("error", err.Error()),
		)
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) receiveLoop(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var reply *protocol.Message
		switch typ {
		case websocket.MessageText:
			msg, handleErr := sess.HandleText(ctx, data)
			if handleErr != nil {
				return handleErr
			}
			reply = msg
		case websocket.MessageBinary:
			msg, handleErr := sess.HandleBinary(ctx, data)
			if handleErr != nil {
				return handleErr
			}
			reply = msg
		}

		if reply != nil {
			sess.enqueueMessage(*reply)
		}
	}
}

func (s *Server) sendPump(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sess.send:
			if !ok {
				return nil
			}

			typ := websocket.MessageText
			if frame.kind == outboundBinary {
				typ = websocket.MessageBinary
			}

			if err := conn.Write(ctx, typ, frame.data); err != nil {
				return err
			}
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return err
			}
		}
	}
}

func isNormalClosure(err error) bool {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.StatusNormalClosure || closeErr.Code == websocket.StatusGoingAway
	}

	return errors.Is(err, context.Canceled)
}
