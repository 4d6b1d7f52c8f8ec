package clientsync

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arcfile/logos/internal/protocol"
)

// PreserveConflictCopy renames the client's local file at root/path aside to
// a conflict-named sibling so a subsequent RequestFile refetch of the
// server's version can land at the original path without discarding the
// local edit — spec.md §4.7/§4.8's response to a ConflictDetected reply,
// adapted from the teacher's edit/edit keep-both strategy to Logos's single
// conflict class (stale-version rejection).
func PreserveConflictCopy(root, path string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(path))

	if _, err := os.Stat(full); os.IsNotExist(err) {
		return "", nil
	}

	siblingRel := protocol.ConflictSiblingPath(path, time.Now())
	siblingFull := filepath.Join(root, filepath.FromSlash(siblingRel))

	if err := os.MkdirAll(filepath.Dir(siblingFull), 0o755); err != nil {
		return "", fmt.Errorf("clientsync: preparing conflict copy directory for %s: %w", path, err)
	}

	if err := os.Rename(full, siblingFull); err != nil {
		return "", fmt.Errorf("clientsync: renaming %s to conflict copy: %w", path, err)
	}

	return siblingRel, nil
}
