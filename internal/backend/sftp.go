package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/arcfile/logos/internal/protocol"
)

// SFTP is the SFTP-backed storage backend, built on pkg/sftp over
// golang.org/x/crypto/ssh exactly as rclone's backend/sftp is. A single
// *sftp.Client shares one SSH channel, so — as with FTP — every call is
// guarded by a mutex and routed through a blockingPool (spec.md §4.1/§9).
type SFTP struct {
	mu     sync.Mutex
	client *sftp.Client
	conn   *ssh.Client
	root   string
	pool   *blockingPool
	id     string
}

var _ Backend = (*SFTP)(nil)

const sshDialTimeout = 15 * time.Second

func newSFTPFromURL(ctx context.Context, raw string) (*SFTP, error) {
	rem, err := parseRemoteURL(raw, 22)
	if err != nil {
		return nil, err
	}

	auth := []ssh.AuthMethod{}
	if rem.pass != "" {
		auth = append(auth, ssh.Password(rem.pass))
	}

	sshConfig := &ssh.ClientConfig{
		User:            rem.user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", rem.host, rem.port)

	conn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("backend: sftp ssh dial %q: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("backend: sftp client init: %w", err)
	}

	s := &SFTP{
		client: client,
		conn:   conn,
		root:   rem.root,
		pool:   newBlockingPool(ctx, 0),
		id:     addr + "/" + rem.root,
	}

	if err := s.pool.run(ctx, func() error { return s.mkdirAll(s.root) }); err != nil {
		client.Close()
		conn.Close()
		return nil, fmt.Errorf("backend: creating sftp root %q: %w", s.root, err)
	}

	return s, nil
}

func (s *SFTP) ID() string     { return s.id }
func (s *SFTP) ReadOnly() bool { return false }

func (s *SFTP) abs(p string) string {
	if s.root == "" {
		return p
	}
	return path.Join(s.root, p)
}

func (s *SFTP) ListFiles(ctx context.Context) ([]protocol.FileMetadata, error) {
	var out []protocol.FileMetadata

	err := s.pool.run(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		return s.walkDir(s.root, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("backend: listing sftp root: %w", err)
	}

	return out, nil
}

// walkDir must be called with s.mu held.
func (s *SFTP) walkDir(dir string, out *[]protocol.FileMetadata) error {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if excludedDirs[e.Name()] {
			continue
		}

		full := path.Join(dir, e.Name())

		if e.IsDir() {
			if err := s.walkDir(full, out); err != nil {
				return err
			}
			continue
		}

		rel := strings.TrimPrefix(full, s.root)
		rel = strings.TrimPrefix(rel, "/")

		*out = append(*out, protocol.FileMetadata{
			Path:     protocol.NormalizePath(rel),
			Size:     e.Size(),
			Modified: e.ModTime().Unix(),
		})
	}

	return nil
}

func (s *SFTP) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var data []byte

	err := s.pool.run(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		f, err := s.client.Open(s.abs(p))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (s *SFTP) WriteFile(ctx context.Context, p string, data []byte) error {
	return s.pool.run(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.mkdirAll(path.Dir(s.abs(p))); err != nil {
			return fmt.Errorf("backend: sftp mkdir for %q: %w", p, err)
		}

		f, err := s.client.Create(s.abs(p))
		if err != nil {
			return fmt.Errorf("backend: sftp create %q: %w", p, err)
		}
		defer f.Close()

		if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("backend: sftp write %q: %w", p, err)
		}

		return nil
	})
}

func (s *SFTP) DeleteFile(ctx context.Context, p string) error {
	return s.pool.run(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.client.Remove(s.abs(p)); err != nil {
			return nil // no-op if already absent
		}

		return nil
	})
}

// mkdirAll creates dir and every missing ancestor segment by segment, since
// SFTP's MkdirAll errors if an intermediate already exists on some servers.
// Must be called with s.mu held.
func (s *SFTP) mkdirAll(dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(strings.Trim(dir, "/"), "/")
	cur := ""

	for _, part := range parts {
		cur = path.Join(cur, part)
		if _, err := s.client.Stat(cur); err == nil {
			continue
		}

		_ = s.client.Mkdir(cur) // ignore races with a concurrent creator
	}

	return nil
}
