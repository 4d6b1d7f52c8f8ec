package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ConflictSiblingPath builds "<stem> (Conflict-<ts>)<ext>" next to path, the
// naming convention spec.md §4.1 and §4.7 both use for conflict copies:
// the folder backend uses it when a write hits a locked file, and the
// client sync engine uses it when preserving a local file ahead of a
// ConflictDetected-triggered refetch.
func ConflictSiblingPath(path string, ts time.Time) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	name := fmt.Sprintf("%s (Conflict-%d)%s", stem, ts.Unix(), ext)
	if dir == "." {
		return name
	}

	return filepath.Join(dir, name)
}
