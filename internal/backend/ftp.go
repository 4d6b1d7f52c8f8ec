package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/arcfile/logos/internal/protocol"
)

// FTP is the FTP-backed storage backend. jlaffaye/ftp's *ftp.ServerConn
// holds one stateful control connection — the wire protocol requires
// commands and responses to stay in lockstep — so every call is guarded by
// a mutex and routed through a blockingPool, matching spec.md §4.1/§9's
// "one connection guarded by a mutex" design note (the same approach
// rclone's backend/ftp takes with its connection pool).
type FTP struct {
	mu   sync.Mutex
	conn *ftp.ServerConn
	root string
	pool *blockingPool
	id   string
}

var _ Backend = (*FTP)(nil)

func newFTPFromURL(ctx context.Context, raw string) (*FTP, error) {
	rem, err := parseRemoteURL(raw, 21)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", rem.host, rem.port)

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("backend: dialing ftp %q: %w", addr, err)
	}

	if rem.user != "" {
		if err := conn.Login(rem.user, rem.pass); err != nil {
			return nil, fmt.Errorf("backend: ftp login: %w", err)
		}
	}

	return &FTP{
		conn: conn,
		root: rem.root,
		pool: newBlockingPool(ctx, 0),
		id:   addr + "/" + rem.root,
	}, nil
}

func (f *FTP) ID() string     { return f.id }
func (f *FTP) ReadOnly() bool { return false }

func (f *FTP) abs(p string) string {
	if f.root == "" {
		return p
	}
	return path.Join(f.root, p)
}

func (f *FTP) ListFiles(ctx context.Context) ([]protocol.FileMetadata, error) {
	var out []protocol.FileMetadata

	err := f.pool.run(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		return f.walkDir(f.root, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("backend: listing ftp root: %w", err)
	}

	return out, nil
}

// walkDir recurses into dir, appending file entries with paths relative to
// f.root. Must be called with f.mu held.
func (f *FTP) walkDir(dir string, out *[]protocol.FileMetadata) error {
	entries, err := f.conn.List(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || excludedDirs[e.Name] {
			continue
		}

		full := path.Join(dir, e.Name)

		switch e.Type {
		case ftp.EntryTypeFolder:
			if err := f.walkDir(full, out); err != nil {
				return err
			}
		case ftp.EntryTypeFile:
			rel := strings.TrimPrefix(full, f.root)
			rel = strings.TrimPrefix(rel, "/")

			modified := e.Time.Unix()
			if t, mdtmErr := f.conn.GetTime(full); mdtmErr == nil {
				modified = t.Unix()
			}

			*out = append(*out, protocol.FileMetadata{
				Path:     protocol.NormalizePath(rel),
				Size:     int64(e.Size),
				Modified: modified,
			})
		}
	}

	return nil
}

func (f *FTP) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var data []byte

	err := f.pool.run(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		r, err := f.conn.Retr(f.abs(p))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		defer r.Close()

		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (f *FTP) WriteFile(ctx context.Context, p string, data []byte) error {
	return f.pool.run(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.mkdirAll(path.Dir(f.abs(p))); err != nil {
			return err
		}

		if err := f.conn.Stor(f.abs(p), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("backend: ftp stor %q: %w", p, err)
		}

		return nil
	})
}

func (f *FTP) DeleteFile(ctx context.Context, p string) error {
	return f.pool.run(ctx, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		if err := f.conn.Delete(f.abs(p)); err != nil {
			return nil // no-op if already absent, per Backend contract
		}

		return nil
	})
}

// mkdirAll creates dir and every missing ancestor, segment by segment — FTP
// has no native "mkdir -p". Must be called with f.mu held.
func (f *FTP) mkdirAll(dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(strings.Trim(dir, "/"), "/")
	cur := ""

	for _, part := range parts {
		cur = path.Join(cur, part)
		_ = f.conn.MakeDir(cur) // ignore "already exists" errors
	}

	return nil
}
