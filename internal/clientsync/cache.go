package clientsync

import "sync"

// Cache tracks the last hash synced with the server for each path (written
// from a download, or sent in an upload), so a watcher event for content
// that is already in sync — such as the echo of a file the client just
// downloaded — doesn't bounce back out as a redundant re-upload (loop
// suppression for the watcher-driven upload path, spec.md §4.7/§7).
type Cache struct {
	mu              sync.Mutex
	lastWrittenHash map[string]string
	pendingDeletes  map[string]bool
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		lastWrittenHash: make(map[string]string),
		pendingDeletes:  make(map[string]bool),
	}
}

// Remember records the hash last synced for path (a download from the
// server, an upload, or unchanged content seen at reconciliation) so a
// subsequent watcher event for identical content can be suppressed.
func (c *Cache) Remember(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastWrittenHash[path] = hash
	delete(c.pendingDeletes, path)
}

// MatchesLastWritten reports whether hash equals the last hash this client
// wrote to path — a signal the watcher event it would otherwise trigger is
// an echo of a download rather than a genuine local edit.
func (c *Cache) MatchesLastWritten(path, hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastWrittenHash[path] == hash
}

// MarkPendingDelete records that this client just deleted path locally (in
// response to a server delete), so the watcher's own Remove event for it is
// suppressed rather than re-sent as a DeleteFile.
func (c *Cache) MarkPendingDelete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingDeletes[path] = true
	delete(c.lastWrittenHash, path)
}

// IsPendingDelete reports and clears whether path was most recently deleted
// by this client itself.
func (c *Cache) IsPendingDelete(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingDeletes[path] {
		delete(c.pendingDeletes, path)
		return true
	}

	return false
}

// Forget removes path from both tracking maps, used once path has been
// deleted (locally after a server delete, or on the server after a local
// removal).
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.lastWrittenHash, path)
	delete(c.pendingDeletes, path)
}
