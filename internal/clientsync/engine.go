// Package clientsync implements the client-side half of Logos: initial
// reconciliation against the server's Welcome snapshot, a filesystem-watch-
// or poll-driven steady-state loop, inbound download/delete/conflict
// handling, and the loop-suppression cache that keeps the two from fighting
// each other (spec.md §4.7).
package clientsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcfile/logos/internal/backend"
	"github.com/arcfile/logos/internal/protocol"
)

// readRetryAttempts/readRetryDelay accommodate editors that rewrite a file
// non-atomically: a watcher event can fire before the write finishes.
const (
	readRetryAttempts = 5
	readRetryDelay    = 75 * time.Millisecond
)

// pollInterval is the fixed cadence for remote read/write backends that
// have no native change notification (spec.md §4.7/§5).
const pollInterval = 10 * time.Second

// Sender is the subset of Channel's behavior Engine depends on — narrowed to
// an interface so tests can exercise the engine without a real websocket
// connection.
type Sender interface {
	SendMessage(ctx context.Context, msg protocol.Message) error
	SendTransfer(ctx context.Context, header protocol.Message, payload []byte) error
}

// Engine drives one client's sync loop against one backend and one server
// channel, for the lifetime of a joined workspace.
type Engine struct {
	backend  backend.Backend
	channel  Sender
	cache    *Cache
	transfer clientTransferState
	logger   *slog.Logger

	workspaceID string
}

// NewEngine builds an Engine over an already-connected Sender and an
// instantiated backend.
func NewEngine(b backend.Backend, ch Sender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		backend: b,
		channel: ch,
		cache:   NewCache(),
		logger:  logger,
	}
}

// clientTransferState mirrors internal/session.TransferState on the client
// side: Idle, or ExpectingBinary for a path the server just announced via
// StartTransfer.
type clientTransferState struct {
	expecting bool
	path      string
	version   int64
}

// Reconcile implements spec.md §4.7's initial reconciliation against a
// Welcome snapshot: upload anything local that's new or newer, request
// anything remote that's newer (on a writable backend).
func (e *Engine) Reconcile(ctx context.Context, storageID string, remoteFiles []protocol.FileMetadata) error {
	e.workspaceID = storageID

	remoteByPath := make(map[string]protocol.FileMetadata, len(remoteFiles))
	for _, r := range remoteFiles {
		remoteByPath[r.Path] = r
	}

	localFiles, err := e.backend.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("clientsync: listing local files: %w", err)
	}

	localModified := make(map[string]int64, len(localFiles))
	for _, l := range localFiles {
		localModified[l.Path] = l.Modified

		r, hasRemote := remoteByPath[l.Path]
		if !hasRemote || l.Modified > r.Modified {
			if err := e.uploadLocal(ctx, l.Path); err != nil {
				e.logger.Warn("clientsync: reconcile upload failed", slog.String("path", l.Path), slog.String("error", err.Error()))
			}
			continue
		}

		data, err := e.backend.ReadFile(ctx, l.Path)
		if err != nil {
			e.logger.Warn("clientsync: reconcile read failed", slog.String("path", l.Path), slog.String("error", err.Error()))
			continue
		}
		e.cache.Remember(l.Path, protocol.ContentHash(data))
	}

	if e.backend.ReadOnly() {
		return nil
	}

	for path, r := range remoteByPath {
		if r.Tombstone() {
			continue
		}
		if modified, ok := localModified[path]; ok && r.Modified <= modified {
			continue
		}

		if err := e.channel.SendMessage(ctx, protocol.NewRequestFile(path)); err != nil {
			return fmt.Errorf("clientsync: requesting %s: %w", path, err)
		}
	}

	return nil
}

// uploadLocal reads path from the backend, computes its hash, and sends
// StartTransfer + binary with target_version 0 (server assigns the
// effective version).
func (e *Engine) uploadLocal(ctx context.Context, path string) error {
	data, err := e.readWithRetry(ctx, path)
	if err != nil {
		return err
	}

	hash := protocol.ContentHash(data)
	header := protocol.NewStartTransfer(path, int64(len(data)), 0)

	if err := e.channel.SendTransfer(ctx, header, data); err != nil {
		return fmt.Errorf("clientsync: uploading %s: %w", path, err)
	}

	e.cache.Remember(path, hash)

	return nil
}

func (e *Engine) readWithRetry(ctx context.Context, path string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < readRetryAttempts; attempt++ {
		data, err := e.backend.ReadFile(ctx, path)
		if err == nil {
			return data, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readRetryDelay):
		}
	}

	return nil, fmt.Errorf("clientsync: reading %s after %d attempts: %w", path, readRetryAttempts, lastErr)
}

// HandleInbound dispatches one message received from the server during
// steady state.
func (e *Engine) HandleInbound(ctx context.Context, msg protocol.Message, nextBinary func(context.Context) ([]byte, error)) error {
	switch msg.Type {
	case protocol.TypeStartTransfer:
		return e.handleStartTransfer(ctx, msg, nextBinary)
	case protocol.TypeDeleteFile:
		return e.handleDeleteFile(ctx, msg)
	case protocol.TypeConflictDetected:
		return e.handleConflict(ctx, msg)
	case protocol.TypeFileUpdate:
		return e.handleFileUpdateHeader(msg, nextBinary)
	case protocol.TypeError:
		e.logger.Warn("clientsync: server error", slog.String("message", msg.ErrMessage))
		return nil
	default:
		return nil
	}
}

// handleFileUpdateHeader handles a FileUpdate message defensively: the wire
// protocol reserves FileUpdate for metadata-only announcements and the
// server never pairs one with a following binary frame for content
// (broadcasts and RequestFile responses use StartTransfer, deletions use
// DeleteFile). A FileUpdate whose Meta.IsDeleted is set is applied as a
// deletion; for the non-delete case, consume the paired binary the same
// way handleStartTransfer does rather than leaving it stranded on the wire.
func (e *Engine) handleFileUpdateHeader(msg protocol.Message, nextBinary func(context.Context) ([]byte, error)) error {
	if msg.Meta == nil {
		return nil
	}

	if msg.Meta.IsDeleted {
		return e.applyRemoteDelete(context.Background(), msg.Meta.Path)
	}

	e.transfer = clientTransferState{expecting: true, path: msg.Meta.Path, version: msg.Meta.Version}

	return e.completeTransfer(nextBinary)
}

func (e *Engine) handleStartTransfer(_ context.Context, msg protocol.Message, nextBinary func(context.Context) ([]byte, error)) error {
	if e.backend.ReadOnly() {
		return nil
	}

	e.transfer = clientTransferState{expecting: true, path: msg.Path, version: msg.TargetVersion}

	return e.completeTransfer(nextBinary)
}

func (e *Engine) completeTransfer(nextBinary func(context.Context) ([]byte, error)) error {
	if !e.transfer.expecting {
		return nil
	}

	ctx := context.Background()
	payload, err := nextBinary(ctx)
	if err != nil {
		return fmt.Errorf("clientsync: reading transfer payload for %s: %w", e.transfer.path, err)
	}

	path := e.transfer.path
	e.transfer = clientTransferState{}

	if e.backend.ReadOnly() {
		return nil
	}

	if err := e.backend.WriteFile(ctx, path, payload); err != nil {
		return fmt.Errorf("clientsync: writing %s: %w", path, err)
	}

	e.cache.Remember(path, protocol.ContentHash(payload))

	return nil
}

func (e *Engine) handleDeleteFile(ctx context.Context, msg protocol.Message) error {
	return e.applyRemoteDelete(ctx, msg.Path)
}

func (e *Engine) applyRemoteDelete(ctx context.Context, path string) error {
	e.cache.MarkPendingDelete(path)

	if e.backend.ReadOnly() {
		return nil
	}

	if err := e.backend.DeleteFile(ctx, path); err != nil {
		return fmt.Errorf("clientsync: deleting %s: %w", path, err)
	}

	e.cache.Forget(path)

	return nil
}

// handleConflict implements spec.md §4.7/§4.8's ConflictDetected response:
// preserve the local file as a conflict copy, discard the original, then
// refetch the authoritative version.
func (e *Engine) handleConflict(ctx context.Context, msg protocol.Message) error {
	root, ok := e.backend.(interface{ Root() string })
	if !ok {
		e.logger.Warn("clientsync: conflict on a backend with no local root, discarding", slog.String("path", msg.Path))
	} else if _, err := PreserveConflictCopy(root.Root(), msg.Path); err != nil {
		return fmt.Errorf("clientsync: preserving conflict copy for %s: %w", msg.Path, err)
	}

	e.cache.MarkPendingDelete(msg.Path)

	if err := e.backend.DeleteFile(ctx, msg.Path); err != nil && !errors.Is(err, backend.ErrNotFound) {
		e.logger.Warn("clientsync: discarding local copy after conflict", slog.String("path", msg.Path), slog.String("error", err.Error()))
	}

	return e.channel.SendMessage(ctx, protocol.NewRequestFile(msg.Path))
}

// OnLocalChange handles one watcher- or poller-observed local change,
// applying the loop-suppression cache before deciding to upload or delete.
func (e *Engine) OnLocalChange(ctx context.Context, change Change) error {
	switch change.Kind {
	case ChangeRemove:
		if e.cache.IsPendingDelete(change.Path) {
			return nil
		}

		e.cache.Forget(change.Path)

		return e.channel.SendMessage(ctx, protocol.NewDeleteFile(change.Path))
	case ChangeWrite:
		data, err := e.readWithRetry(ctx, change.Path)
		if err != nil {
			e.logger.Warn("clientsync: reading changed file", slog.String("path", change.Path), slog.String("error", err.Error()))
			return nil
		}

		hash := protocol.ContentHash(data)
		if e.cache.MatchesLastWritten(change.Path, hash) {
			return nil
		}

		header := protocol.NewStartTransfer(change.Path, int64(len(data)), 0)
		if err := e.channel.SendTransfer(ctx, header, data); err != nil {
			return fmt.Errorf("clientsync: uploading %s: %w", change.Path, err)
		}

		e.cache.Remember(change.Path, hash)

		return nil
	default:
		return nil
	}
}
