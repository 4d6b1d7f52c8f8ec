package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/arcfile/logos/internal/protocol"
	"github.com/arcfile/logos/internal/serverstore"
)

func marshalMessage(msg protocol.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (protocol.Message, error) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("session: decoding message: %w", err)
	}

	return msg, nil
}

// HandleText dispatches one decoded text-frame Message against the
// session's current state. It returns the reply to write back immediately,
// if any; broadcasts to other workspace members happen as a side effect via
// Workspace.Broadcast, which enqueues on their own Session.send.
func (s *Session) HandleText(ctx context.Context, raw []byte) (*protocol.Message, error) {
	msg, err := unmarshalMessage(raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	acceptErr := s.transfer.AcceptText()
	s.mu.Unlock()
	if acceptErr != nil {
		reply := protocol.NewError(acceptErr.Error())
		return &reply, nil
	}

	switch msg.Type {
	case protocol.TypeRequestStorageList:
		return s.handleRequestStorageList(ctx)
	case protocol.TypeCreateStorage:
		return s.handleCreateStorage(ctx, msg)
	case protocol.TypeJoinStorage:
		return s.handleJoinStorage(ctx, msg)
	case protocol.TypeStartTransfer:
		return s.handleStartTransfer(msg)
	case protocol.TypeRequestFile:
		return s.handleRequestFile(msg)
	case protocol.TypeDeleteFile:
		return s.handleDeleteFile(ctx, msg)
	case protocol.TypeRegisterDashboard:
		return s.handleRegisterDashboard()
	default:
		reply := protocol.NewError(fmt.Sprintf("session: unhandled message type %q", msg.Type))
		return &reply, nil
	}
}

func (s *Session) handleRequestStorageList(ctx context.Context) (*protocol.Message, error) {
	recs, err := s.dir.List(ctx)
	if err != nil {
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	infos := make([]protocol.StorageInfo, 0, len(recs))
	for _, r := range recs {
		infos = append(infos, protocol.StorageInfo{ID: r.ID, Name: r.Name})
	}

	reply := protocol.NewStorageList(infos)
	return &reply, nil
}

// handleCreateStorage creates the workspace and re-sends the updated
// StorageList — it does NOT auto-join. spec.md §4.3 leaves joining to a
// separate, explicit JoinStorage the client sends once it has picked the
// new entry off the refreshed list.
func (s *Session) handleCreateStorage(ctx context.Context, msg protocol.Message) (*protocol.Message, error) {
	if _, err := s.dir.Create(ctx, msg.StorageName); err != nil {
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	return s.handleRequestStorageList(ctx)
}

func (s *Session) handleJoinStorage(ctx context.Context, msg protocol.Message) (*protocol.Message, error) {
	return s.joinWorkspace(ctx, msg.StorageID, msg.ClientName)
}

// joinWorkspace loads the workspace, joins its roster, transitions to
// Synced, and replies with the Welcome snapshot — spec.md §4.3's Lobby →
// Synced transition.
func (s *Session) joinWorkspace(ctx context.Context, storageID, clientName string) (*protocol.Message, error) {
	ws, err := s.dir.Get(ctx, storageID)
	if err != nil {
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	s.mu.Lock()
	s.workspace = ws
	s.state = StateSynced
	s.ClientName = clientName
	s.mu.Unlock()

	ws.Join(s.ID, s)

	s.logger.Info("session: joined workspace",
		slog.String("client_id", s.ID),
		slog.String("storage_id", storageID),
		slog.String("client_name", clientName),
	)

	reply := protocol.NewWelcome(ws.ID, ws.Snapshot())
	return &reply, nil
}

// handleStartTransfer arms the half-duplex transfer state for the paired
// binary frame that must follow immediately — spec.md §9's explicit
// transfer-state requirement.
func (s *Session) handleStartTransfer(msg protocol.Message) (*protocol.Message, error) {
	ws := s.Workspace()
	if ws == nil {
		reply := protocol.NewError("session: StartTransfer before joining a workspace")
		return &reply, nil
	}

	effectiveVersion := msg.TargetVersion
	if effectiveVersion == 0 {
		effectiveVersion = ws.NextVersion(msg.Path)
	}
	msg.TargetVersion = effectiveVersion

	s.mu.Lock()
	s.transfer.BeginTransfer(msg)
	s.mu.Unlock()

	return nil, nil
}

// HandleBinary consumes the paired binary payload for a pending
// StartTransfer, applies it through Workspace.ProcessUpdate, and only once
// the update is accepted writes it to the upload directory and broadcasts
// it. On a VersionConflict it replies ConflictDetected to the sender only,
// never broadcasting and leaving the stored payload untouched (spec.md
// §4.4/§4.8); any other rejection replies Error.
func (s *Session) HandleBinary(ctx context.Context, payload []byte) (*protocol.Message, error) {
	s.mu.Lock()
	header, err := s.transfer.AcceptBinary()
	s.mu.Unlock()
	if err != nil {
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	ws := s.Workspace()
	if ws == nil {
		reply := protocol.NewError("session: binary frame before joining a workspace")
		return &reply, nil
	}

	candidate := protocol.FileMetadata{
		Path:           protocol.NormalizePath(header.Path),
		Size:           int64(len(payload)),
		Version:        header.TargetVersion,
		Hash:           protocol.ContentHash(payload),
		LastModifiedBy: s.ClientName,
	}

	if err := ws.ProcessUpdate(ctx, candidate); err != nil {
		if existing, ok := ws.Lookup(candidate.Path); ok && errors.Is(err, serverstore.ErrStaleVersion) {
			reply := protocol.NewConflictDetected(candidate.Path, existing.Version)
			return &reply, nil
		}
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	if err := s.storePayload(ws.ID, header.Path, payload); err != nil {
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	ws.Broadcast(candidate, payload, s.ID)

	return nil, nil
}

func (s *Session) handleRequestFile(msg protocol.Message) (*protocol.Message, error) {
	ws := s.Workspace()
	if ws == nil {
		reply := protocol.NewError("session: RequestFile before joining a workspace")
		return &reply, nil
	}

	meta, ok := ws.Lookup(msg.Path)
	if !ok || meta.Tombstone() {
		reply := protocol.NewError(fmt.Sprintf("session: %s not found in workspace", msg.Path))
		return &reply, nil
	}

	payload, err := os.ReadFile(s.payloadPath(ws.ID, msg.Path))
	if err != nil {
		reply := protocol.NewError(fmt.Sprintf("session: reading stored payload for %s: %v", msg.Path, err))
		return &reply, nil
	}

	header := protocol.NewStartTransfer(meta.Path, meta.Size, meta.Version)
	s.enqueueMessage(header)
	s.enqueueBinary(payload)

	return nil, nil
}

func (s *Session) handleDeleteFile(ctx context.Context, msg protocol.Message) (*protocol.Message, error) {
	ws := s.Workspace()
	if ws == nil {
		reply := protocol.NewError("session: DeleteFile before joining a workspace")
		return &reply, nil
	}

	path := protocol.NormalizePath(msg.Path)
	candidate := protocol.FileMetadata{
		Path:           path,
		Version:        ws.NextVersion(path),
		IsDeleted:      true,
		LastModifiedBy: s.ClientName,
	}

	if err := ws.ProcessUpdate(ctx, candidate); err != nil {
		if existing, ok := ws.Lookup(path); ok && errors.Is(err, serverstore.ErrStaleVersion) {
			reply := protocol.NewConflictDetected(path, existing.Version)
			return &reply, nil
		}
		reply := protocol.NewError(err.Error())
		return &reply, nil
	}

	ws.Broadcast(candidate, nil, s.ID)

	return nil, nil
}

// handleRegisterDashboard acknowledges the dashboard telemetry handshake
// with one DashboardSnapshot of the currently loaded workspaces. Only the
// message shape is implemented, per spec.md §1's non-goal — no periodic
// DashboardSnapshot emission loop runs from this path.
func (s *Session) handleRegisterDashboard() (*protocol.Message, error) {
	workspaces := s.dir.All()
	rooms := make([]protocol.DashboardRoom, 0, len(workspaces))
	for _, ws := range workspaces {
		rooms = append(rooms, protocol.DashboardRoom{
			ID:          ws.ID,
			Name:        ws.Name,
			ClientCount: ws.ClientCount(),
			FileCount:   ws.FileCount(),
		})
	}

	reply := protocol.NewDashboardSnapshot(rooms)
	return &reply, nil
}

func (s *Session) payloadPath(workspaceID, path string) string {
	return filepath.Join(s.uploadsDir, workspaceID, filepath.FromSlash(protocol.NormalizePath(path)))
}

func (s *Session) storePayload(workspaceID, path string, payload []byte) error {
	dest := s.payloadPath(workspaceID, path)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("session: creating upload directory for %s: %w", path, err)
	}

	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return fmt.Errorf("session: writing payload for %s: %w", path, err)
	}

	return nil
}

var _ serverstore.Outbound = (*Session)(nil)
