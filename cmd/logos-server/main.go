// Command logos-server runs the Logos synchronization server: it serves
// GET /health and GET /ws/client (spec.md §6) over a serverstore.Directory
// backed by a SQLite durable store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcfile/logos/internal/serverconfig"
	"github.com/arcfile/logos/internal/serverstore"
	"github.com/arcfile/logos/internal/session"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to server.toml (defaults built in if omitted)")
	flag.Parse()

	logger := slog.Default()

	if err := run(*configPath, logger); err != nil {
		logger.Error("logos-server: fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := serverconfig.Default()
	if configPath != "" {
		loaded, err := serverconfig.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := serverstore.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("logos-server: opening store: %w", err)
	}
	defer store.Close()

	dir := serverstore.NewDirectory(store)
	srv := session.NewServer(dir, cfg.UploadsDir, logger)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("logos-server: listening", slog.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("logos-server: shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("logos-server: graceful shutdown: %w", err)
	}

	return nil
}
