// Package serverstore implements the server's per-workspace authoritative
// state store: spec.md §3's Workspace (StorageRoom) and workspace
// directory, backed by a durable SQLite store rehydrated into memory on
// first join after restart.
package serverstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/arcfile/logos/internal/protocol"
)

// ErrNameTaken is returned by CreateStorage when the requested name is
// already in use — spec.md §3's "name unique" constraint on the workspace
// directory.
var ErrNameTaken = errors.New("serverstore: storage name already in use")

// ErrNotFound is returned when a storage ID does not exist.
var ErrNotFound = errors.New("serverstore: storage not found")

// walJournalSizeLimit bounds the WAL file, matching the teacher's
// internal/sync/state.go pragma set for its own SQLite-backed store.
const walJournalSizeLimit = 67108864 // 64 MiB

// StorageRecord is one row of the workspace directory: spec.md §3's
// "persisted list of (id, name)".
type StorageRecord struct {
	ID        string
	Name      string
	CreatedAt int64
}

// Store is the durable persistence layer behind the in-memory workspace
// index. A SQLiteStore satisfies it; tests may use ":memory:" as the path.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath, applies
// pending migrations, and returns a ready Store.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("serverstore: opening %q: %w", dbPath, err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("serverstore: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateStorage inserts a new named workspace and returns its generated ID.
func (s *Store) CreateStorage(ctx context.Context, name string) (StorageRecord, error) {
	rec := StorageRecord{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().Unix()}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO storages (id, name, created_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Name, rec.CreatedAt)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return StorageRecord{}, fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		return StorageRecord{}, fmt.Errorf("serverstore: creating storage %q: %w", name, err)
	}

	return rec, nil
}

// ListStorages returns the full workspace directory.
func (s *Store) ListStorages(ctx context.Context) ([]StorageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM storages ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("serverstore: listing storages: %w", err)
	}
	defer rows.Close()

	var out []StorageRecord
	for rows.Next() {
		var rec StorageRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("serverstore: scanning storage row: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// GetStorage looks up a workspace by ID.
func (s *Store) GetStorage(ctx context.Context, id string) (StorageRecord, error) {
	var rec StorageRecord

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM storages WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StorageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return StorageRecord{}, fmt.Errorf("serverstore: loading storage %q: %w", id, err)
	}

	return rec, nil
}

// LoadFiles rehydrates every FileMetadata row (including tombstones) for a
// workspace, used when a workspace is loaded into memory for the first time
// after a restart (spec.md §3: "rehydrated into memory on first join after
// restart").
func (s *Store) LoadFiles(ctx context.Context, storageID string) ([]protocol.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, size, modified, version, hash, is_deleted, last_modified_by
		 FROM files WHERE storage_id = ?`, storageID)
	if err != nil {
		return nil, fmt.Errorf("serverstore: loading files for %q: %w", storageID, err)
	}
	defer rows.Close()

	var out []protocol.FileMetadata
	for rows.Next() {
		var m protocol.FileMetadata
		var isDeleted int

		if err := rows.Scan(&m.Path, &m.Size, &m.Modified, &m.Version, &m.Hash, &isDeleted, &m.LastModifiedBy); err != nil {
			return nil, fmt.Errorf("serverstore: scanning file row: %w", err)
		}
		m.IsDeleted = isDeleted != 0

		out = append(out, m)
	}

	return out, rows.Err()
}

// UpsertFile durably persists meta for (storageID, meta.Path). Called inside
// the per-workspace critical section in Workspace.ProcessUpdate, before the
// update is installed into the in-memory index (spec.md §4.4: "accepted
// entries are persisted durably before being installed").
func (s *Store) UpsertFile(ctx context.Context, storageID string, meta protocol.FileMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (storage_id, path, size, modified, version, hash, is_deleted, last_modified_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (storage_id, path) DO UPDATE SET
			size = excluded.size,
			modified = excluded.modified,
			version = excluded.version,
			hash = excluded.hash,
			is_deleted = excluded.is_deleted,
			last_modified_by = excluded.last_modified_by
	`, storageID, meta.Path, meta.Size, meta.Modified, meta.Version, meta.Hash, boolToInt(meta.IsDeleted), meta.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("serverstore: persisting %q in %q: %w", meta.Path, storageID, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintErr reports whether err is a SQLite UNIQUE constraint
// violation. modernc.org/sqlite surfaces these as a plain error whose
// message contains "UNIQUE constraint failed" — there is no typed sentinel
// in the driver, so string matching is the pragmatic check here.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
