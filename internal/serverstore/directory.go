package serverstore

import (
	"context"
	"fmt"
	"sync"
)

// Directory is the server-wide registry of workspaces: the durable list of
// (id, name) plus the in-memory Workspace instances rehydrated from it on
// demand (spec.md §3). One Directory is shared by every client session.
type Directory struct {
	store *Store

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewDirectory(store *Store) *Directory {
	return &Directory{store: store, workspaces: make(map[string]*Workspace)}
}

// List returns the persisted (id, name) directory, independent of which
// workspaces are currently loaded into memory.
func (d *Directory) List(ctx context.Context) ([]StorageRecord, error) {
	return d.store.ListStorages(ctx)
}

// Create adds a new named workspace to the directory (spec.md §4.3:
// "CreateStorage creates a named workspace (unique name constraint)").
func (d *Directory) Create(ctx context.Context, name string) (StorageRecord, error) {
	return d.store.CreateStorage(ctx, name)
}

// Get returns the in-memory Workspace for id, loading it from the durable
// store on first access (spec.md §3: "Created on demand ... rehydrated into
// memory on first join after restart").
func (d *Directory) Get(ctx context.Context, id string) (*Workspace, error) {
	d.mu.Lock()
	if ws, ok := d.workspaces[id]; ok {
		d.mu.Unlock()
		return ws, nil
	}
	d.mu.Unlock()

	rec, err := d.store.GetStorage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("serverstore: loading workspace %q: %w", id, err)
	}

	ws, err := Load(ctx, d.store, rec.ID, rec.Name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	// Another goroutine may have loaded the same workspace concurrently;
	// keep whichever instance was installed first so roster membership
	// never splits across two Workspace objects for the same ID.
	if existing, ok := d.workspaces[id]; ok {
		d.mu.Unlock()
		return existing, nil
	}
	d.workspaces[id] = ws
	d.mu.Unlock()

	return ws, nil
}

// All returns every currently-loaded workspace, used by the dashboard
// snapshot (spec.md §1: telemetry stream, message-shape only).
func (d *Directory) All() []*Workspace {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Workspace, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		out = append(out, ws)
	}

	return out
}
