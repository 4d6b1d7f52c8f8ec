package clientsync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_RememberAndMatch(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Remember("a.txt", "hash1")

	require.True(t, c.MatchesLastWritten("a.txt", "hash1"))
	require.False(t, c.MatchesLastWritten("a.txt", "hash2"))
	require.False(t, c.MatchesLastWritten("missing.txt", ""))
}

func TestCache_PendingDelete_ConsumedOnce(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.MarkPendingDelete("a.txt")

	require.True(t, c.IsPendingDelete("a.txt"))
	require.False(t, c.IsPendingDelete("a.txt"))
}

func TestCache_RememberClearsPendingDelete(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.MarkPendingDelete("a.txt")
	c.Remember("a.txt", "hash1")

	require.False(t, c.IsPendingDelete("a.txt"))
}

func TestCache_Forget(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Remember("a.txt", "hash1")
	c.Forget("a.txt")

	require.False(t, c.MatchesLastWritten("a.txt", "hash1"))
}
