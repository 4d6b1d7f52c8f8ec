package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/arcfile/logos/internal/protocol"
)

// excludedDirs are never listed by the backends, matching rclone's local backend
// convention of skipping VCS and build-output directories.
var excludedDirs = map[string]bool{
	".git":   true,
	"target": true,
}

// windowsSharingViolation is ERROR_SHARING_VIOLATION (winerror.h), the
// Windows errno a write/remove returns when another process holds the file
// open without FILE_SHARE_WRITE. rclone's local backend traps exactly this
// code when retrying a remove (backend/local/remove_windows.go); spec.md
// §4.1 asks the folder backend to trap it on write too and fall back to a
// conflict-named sibling instead of failing outright.
const windowsSharingViolation = 32

// Folder is the local-filesystem backend. The root is canonicalized once at
// construction time so every returned path is relative to a stable base.
type Folder struct {
	root string
}

var _ Backend = (*Folder)(nil)

// NewFolder canonicalizes root (resolving symlinks, making it absolute) and
// returns a Folder backend rooted there. The directory is created if absent.
func NewFolder(root string) (*Folder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("backend: resolving folder root %q: %w", root, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("backend: creating folder root %q: %w", abs, err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("backend: canonicalizing folder root %q: %w", abs, err)
	}

	return &Folder{root: canonical}, nil
}

func (f *Folder) ID() string     { return f.root }
func (f *Folder) ReadOnly() bool { return false }

// Root returns the canonical root path, used by the client's fsnotify watch
// to know what directory to recursively watch.
func (f *Folder) Root() string { return f.root }

func (f *Folder) abs(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *Folder) ListFiles(_ context.Context) ([]protocol.FileMetadata, error) {
	var out []protocol.FileMetadata

	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}

		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if excludedDirs[part] {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		out = append(out, protocol.FileMetadata{
			Path:     protocol.NormalizePath(rel),
			Size:     info.Size(),
			Modified: info.ModTime().Unix(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend: listing folder %q: %w", f.root, err)
	}

	return out, nil
}

func (f *Folder) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(f.abs(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: reading %q: %w", path, err)
	}

	return data, nil
}

func (f *Folder) WriteFile(_ context.Context, path string, data []byte) error {
	dest := f.abs(path)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("backend: creating parents for %q: %w", path, err)
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		if isSharingViolation(err) {
			conflict := protocol.ConflictSiblingPath(dest, time.Now())
			if writeErr := os.WriteFile(conflict, data, 0o644); writeErr == nil {
				return nil
			}
		}

		return fmt.Errorf("backend: writing %q: %w", path, err)
	}

	return nil
}

func (f *Folder) DeleteFile(_ context.Context, path string) error {
	err := os.Remove(f.abs(path))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("backend: deleting %q: %w", path, err)
}

// isSharingViolation reports whether err is a platform-specific
// concurrent-write conflict: ERROR_SHARING_VIOLATION on Windows, or
// ETXTBSY/EBUSY on POSIX (another process has the file open or executing
// against it). spec.md §4.1 asks the folder backend to trap these on write
// and fall back to a conflict-named sibling instead of failing outright.
func isSharingViolation(err error) bool {
	if runtime.GOOS == "windows" {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return false
		}

		errno, ok := pathErr.Err.(interface{ Errno() uintptr })
		return ok && errno.Errno() == windowsSharingViolation
	}

	return errors.Is(err, syscall.ETXTBSY) || errors.Is(err, syscall.EBUSY)
}
