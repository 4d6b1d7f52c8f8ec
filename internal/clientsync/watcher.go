package clientsync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arcfile/logos/internal/protocol"
)

// safetyScanInterval bounds how long a missed fsnotify event (a watcher gap,
// or a platform edge case fsnotify doesn't surface) can go unnoticed: a full
// re-scan runs on this cadence regardless of watch activity.
const safetyScanInterval = 5 * time.Minute

// FsWatcher abstracts filesystem event monitoring so tests can inject a
// fake implementation without touching a real directory.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// ChangeKind classifies a local filesystem change for the sync engine.
type ChangeKind int

const (
	ChangeWrite ChangeKind = iota
	ChangeRemove
)

// Change is one local filesystem event, normalized to a workspace-relative
// path and ready for the engine to reconcile against the cache.
type Change struct {
	Path string
	Kind ChangeKind
}

// eventQueueSize is the intended capacity of the out channel passed to Run
// (the channel itself is created by the caller). When that channel is full,
// trySend drops the new event rather than blocking fsnotify's own goroutine
// — the periodic safety scan is what recovers from a drop.
const eventQueueSize = 256

// Watcher drives fsnotify over a synced folder, emitting normalized Change
// values and running a periodic safety re-scan.
type Watcher struct {
	root           string
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
	droppedEvents  atomic.Int64
}

// NewWatcher creates a Watcher rooted at root.
func NewWatcher(root string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		root:   root,
		logger: logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}
			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// DroppedEvents reports how many events were dropped due to backpressure.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// Run blocks watching w.root, sending normalized changes to out and full
// re-scans (via rescan) every safetyScanInterval, until ctx is canceled.
func (w *Watcher) Run(ctx context.Context, out chan<- Change, rescan func(context.Context) error) error {
	watcher, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("clientsync: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addWatchesRecursive(watcher); err != nil {
		return fmt.Errorf("clientsync: adding initial watches: %w", err)
	}

	ticker := time.NewTicker(safetyScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			w.handleEvent(ctx, watcher, ev, out)
		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			w.logger.Warn("clientsync: watcher error", slog.String("error", err.Error()))
		case <-ticker.C:
			if rescan != nil {
				if err := rescan(ctx); err != nil {
					w.logger.Warn("clientsync: safety rescan failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, watcher FsWatcher, ev fsnotify.Event, out chan<- Change) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		w.logger.Warn("clientsync: computing relative path", slog.String("path", ev.Name), slog.String("error", err.Error()))
		return
	}
	path := protocol.NormalizePath(filepath.ToSlash(rel))

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if addErr := watcher.Add(ev.Name); addErr != nil {
				w.logger.Warn("clientsync: adding watch for new directory", slog.String("path", ev.Name), slog.String("error", addErr.Error()))
			}
			return
		}
		w.trySend(ctx, out, Change{Path: path, Kind: ChangeWrite})
	case ev.Op&fsnotify.Write != 0:
		w.trySend(ctx, out, Change{Path: path, Kind: ChangeWrite})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.trySend(ctx, out, Change{Path: path, Kind: ChangeRemove})
	}
}

func (w *Watcher) trySend(ctx context.Context, out chan<- Change, change Change) {
	select {
	case out <- change:
	case <-ctx.Done():
	default:
		w.droppedEvents.Add(1)
		w.logger.Warn("clientsync: event channel full, dropping event (safety scan will catch up)",
			slog.String("path", change.Path),
		)
	}
}

func (w *Watcher) addWatchesRecursive(watcher FsWatcher) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("clientsync: walk error during watch setup", slog.String("path", path), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if d.Name() == ".git" {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			w.logger.Warn("clientsync: failed to add watch", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	})
}
