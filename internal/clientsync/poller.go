package clientsync

import (
	"context"
	"log/slog"
	"time"
)

// Poll runs spec.md §4.7's remote-backend steady-state loop: every
// pollInterval, list the backend and upload anything whose content hash
// differs from the cache (or is absent from it). Blocks until ctx is
// canceled.
func (e *Engine) Poll(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	files, err := e.backend.ListFiles(ctx)
	if err != nil {
		e.logger.Warn("clientsync: poll list failed", slog.String("error", err.Error()))
		return
	}

	for _, f := range files {
		if err := e.OnLocalChange(ctx, Change{Path: f.Path, Kind: ChangeWrite}); err != nil {
			e.logger.Warn("clientsync: poll upload failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
}
