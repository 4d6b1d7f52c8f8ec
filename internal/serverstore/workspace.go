package serverstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arcfile/logos/internal/protocol"
)

// ErrStaleVersion is returned by Workspace.ProcessUpdate when the candidate
// metadata does not strictly supersede the existing entry — spec.md §4.4's
// VersionConflict.
var ErrStaleVersion = errors.New("serverstore: stale version")

// ErrDurability wraps a failure to persist an accepted update durably.
// spec.md §4.4/§7: the update must not be installed in memory if this
// happens, and the client stays connected to retry.
var ErrDurability = errors.New("serverstore: durability failure")

// Outbound is the per-client sender a Workspace broadcasts to. The session
// package's outbound queue satisfies this; kept as a narrow interface here
// so serverstore has no dependency on the transport layer.
type Outbound interface {
	Send(meta protocol.FileMetadata, payload []byte, isDelete bool)
}

// Workspace is spec.md §3's StorageRoom: the per-workspace authoritative
// index of file metadata plus the live client roster. Version assignment
// and durable persistence happen inside the same critical section, keyed
// by the whole workspace (a per-workspace mutex, per spec.md §9's note that
// this suffices when per-path locking is inconvenient) — so two accepted
// updates for the same (workspace, path) can never share a version.
type Workspace struct {
	ID   string
	Name string

	store *Store

	mu      sync.Mutex
	files   map[string]protocol.FileMetadata
	clients map[string]Outbound
}

// Load rehydrates a Workspace's in-memory index from the durable store —
// spec.md §3's "rehydrated into memory on first join after restart".
func Load(ctx context.Context, store *Store, id, name string) (*Workspace, error) {
	rows, err := store.LoadFiles(ctx, id)
	if err != nil {
		return nil, err
	}

	files := make(map[string]protocol.FileMetadata, len(rows))
	for _, m := range rows {
		files[m.Path] = m
	}

	return &Workspace{
		ID:      id,
		Name:    name,
		store:   store,
		files:   files,
		clients: make(map[string]Outbound),
	}, nil
}

// Snapshot returns every file metadata entry (live and tombstoned) for the
// workspace's Welcome message — spec.md §4.3.
func (w *Workspace) Snapshot() []protocol.FileMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]protocol.FileMetadata, 0, len(w.files))
	for _, m := range w.files {
		out = append(out, m)
	}

	return out
}

// Lookup returns the current metadata for path, if any.
func (w *Workspace) Lookup(path string) (protocol.FileMetadata, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, ok := w.files[path]
	return m, ok
}

// Join adds clientID's outbound sender to the roster.
func (w *Workspace) Join(clientID string, out Outbound) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.clients[clientID] = out
}

// Leave removes clientID from the roster (spec.md §4.3: Disconnected state).
func (w *Workspace) Leave(clientID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.clients, clientID)
}

// ClientCount reports the live roster size, used by the dashboard snapshot.
func (w *Workspace) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.clients)
}

// FileCount reports the number of tracked paths (including tombstones).
func (w *Workspace) FileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.files)
}

// NextVersion resolves a StartTransfer/DeleteFile's target_version==0
// convention: spec.md §4.4 assigns existing.version+1 (or 1 if absent).
// Must be called with the caller not already holding the mutex that
// ProcessUpdate takes — this is a read-only peek used by session handlers
// to decide the effective_version before constructing the candidate.
func (w *Workspace) NextVersion(path string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.files[path]; ok {
		return existing.Version + 1
	}

	return 1
}

// ProcessUpdate applies spec.md §4.4's authoritative update rule to
// candidate. On acceptance, candidate is persisted durably and then
// installed into the in-memory index, both inside the same critical
// section; on a durability failure the update is rejected and the index is
// left untouched — it never disagrees with the durable store (spec.md §7).
func (w *Workspace) ProcessUpdate(ctx context.Context, candidate protocol.FileMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, hasExisting := w.files[candidate.Path]
	if hasExisting && !candidate.Supersedes(existing) {
		return fmt.Errorf("%w: %s at version %d (current %d)", ErrStaleVersion, candidate.Path, candidate.Version, existing.Version)
	}

	if candidate.Modified == 0 {
		candidate.Modified = time.Now().Unix()
	}

	if err := w.store.UpsertFile(ctx, w.ID, candidate); err != nil {
		return fmt.Errorf("%w: %w", ErrDurability, err)
	}

	w.files[candidate.Path] = candidate

	return nil
}

// Broadcast fans the accepted update out to every roster member except
// exceptClientID — spec.md §4.5: "broadcast ... to all peers in the same
// workspace except the sender." Best-effort: each peer has its own outbound
// queue, so a slow peer never blocks this call (spec.md §5).
func (w *Workspace) Broadcast(meta protocol.FileMetadata, payload []byte, exceptClientID string) {
	w.mu.Lock()
	targets := make([]Outbound, 0, len(w.clients))
	for id, out := range w.clients {
		if id == exceptClientID {
			continue
		}
		targets = append(targets, out)
	}
	w.mu.Unlock()

	for _, out := range targets {
		out.Send(meta, payload, meta.IsDeleted)
	}
}
