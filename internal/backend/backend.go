// Package backend implements the storage backend abstraction spec.md §4.1
// describes: a uniform capability contract consumed identically by the
// client sync engine, with four implementations — local folder, FTP, SFTP,
// and read-only ZIP.
package backend

import (
	"context"
	"errors"

	"github.com/arcfile/logos/internal/protocol"
)

// Sentinel errors classifying backend failures (spec.md §7's BackendIOError
// family). Callers use errors.Is to branch on these.
var (
	ErrNotFound  = errors.New("backend: file not found")
	ErrReadOnly  = errors.New("backend: backend is read-only")
	ErrPermanent = errors.New("backend: permanent backend error")
)

// Backend is the capability contract every storage backend satisfies:
// list, read, write, delete, a stable id, and a read-only flag. All
// operations are context-aware; path arguments are forward-slash-normalized
// relative paths (protocol.NormalizePath).
type Backend interface {
	// ListFiles returns metadata for every file currently in the backend.
	// Version is always 0, Hash is always empty, IsDeleted is always false —
	// backends know nothing about the server's version space.
	ListFiles(ctx context.Context) ([]protocol.FileMetadata, error)

	// ReadFile returns the full content of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes data to path, creating parent directories as needed.
	// If the destination is locked by another process, implementations may
	// write to a conflict-named sibling and succeed rather than fail.
	WriteFile(ctx context.Context, path string, data []byte) error

	// DeleteFile removes path. A no-op, not an error, if path is absent.
	DeleteFile(ctx context.Context, path string) error

	// ID returns a stable string identifying the backend's root.
	ID() string

	// ReadOnly reports whether WriteFile/DeleteFile always fail.
	ReadOnly() bool
}
