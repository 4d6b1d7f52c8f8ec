// Package session implements the server-side per-connection state machine
// (spec.md §4.3): Lobby → Synced{workspace_id} → Disconnected, dispatching
// protocol messages against the serverstore directory and workspace index.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/arcfile/logos/internal/protocol"
	"github.com/arcfile/logos/internal/serverstore"
)

// State is the connection's position in the Lobby → Synced → Disconnected
// state machine.
type State int

const (
	StateLobby State = iota
	StateSynced
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// outboundKind discriminates queued frames so the send pump knows whether to
// write a text or binary websocket message.
type outboundKind int

const (
	outboundText outboundKind = iota
	outboundBinary
)

type outboundFrame struct {
	kind outboundKind
	data []byte
}

// outboundQueueSize bounds the per-connection send queue. A slow client
// backs up here rather than blocking Workspace.Broadcast for every peer —
// spec.md §5's "doesn't stall" resource discipline applied to fan-out.
const outboundQueueSize = 64

// Session is one client connection's state. It implements
// serverstore.Outbound so a Workspace can address it directly by client ID.
type Session struct {
	ID         string
	ClientName string
	Secret     string

	dir        *serverstore.Directory
	uploadsDir string
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	workspace *serverstore.Workspace
	transfer  TransferState

	send chan outboundFrame
}

// New creates a session for a newly accepted connection, starting in the
// Lobby state.
func New(dir *serverstore.Directory, uploadsDir string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		ID:         uuid.NewString(),
		dir:        dir,
		uploadsDir: uploadsDir,
		logger:     logger,
		state:      StateLobby,
		send:       make(chan outboundFrame, outboundQueueSize),
	}
}

// State reports the session's current position in the state machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Workspace returns the joined workspace, or nil if still in the Lobby.
func (s *Session) Workspace() *serverstore.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.workspace
}

// Send implements serverstore.Outbound. A deletion broadcasts a bare
// DeleteFile{path}; a content update broadcasts a StartTransfer{path, size,
// version} header immediately followed by the binary payload — the same
// pairing HandleBinary/handleRequestFile use, never a separate FileUpdate
// announcement (spec.md §4.4/§4.8's broadcast framing). A full send queue
// drops the update with a log line rather than blocking the broadcaster —
// the client's periodic reconciliation against a future Welcome will
// recover it, per spec.md §7's "log, skip" policy.
func (s *Session) Send(meta protocol.FileMetadata, payload []byte, isDelete bool) {
	if isDelete {
		s.enqueueMessage(protocol.NewDeleteFile(meta.Path))
		return
	}

	s.enqueueMessage(protocol.NewStartTransfer(meta.Path, meta.Size, meta.Version))
	s.enqueueBinary(payload)
}

func (s *Session) enqueueMessage(msg protocol.Message) {
	data, err := marshalMessage(msg)
	if err != nil {
		s.logger.Error("session: marshaling outbound message", slog.String("error", err.Error()))
		return
	}

	s.enqueueFrame(outboundFrame{kind: outboundText, data: data})
}

func (s *Session) enqueueBinary(payload []byte) {
	s.enqueueFrame(outboundFrame{kind: outboundBinary, data: payload})
}

func (s *Session) enqueueFrame(frame outboundFrame) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn("session: outbound queue full, dropping frame",
			slog.String("client_id", s.ID),
			slog.Int("kind", int(frame.kind)),
		)
	}
}

// Close leaves the joined workspace's roster (if any) and marks the session
// disconnected. Safe to call once per connection teardown.
func (s *Session) Close() {
	s.mu.Lock()
	ws := s.workspace
	s.state = StateDisconnected
	s.mu.Unlock()

	if ws != nil {
		ws.Leave(s.ID)
	}

	close(s.send)
}
