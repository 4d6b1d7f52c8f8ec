package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_JoinStorage_RoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewJoinStorage("ws-1", "alice")

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"JoinStorage"`)
	require.Contains(t, string(data), `"client_name":"alice"`)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, msg, decoded)
}

func TestMessage_Welcome_CarriesFiles(t *testing.T) {
	t.Parallel()

	files := []FileMetadata{
		{Path: "a.txt", Version: 3, Hash: "deadbeef"},
		{Path: "b.txt", Version: 1, IsDeleted: true},
	}
	msg := NewWelcome("ws-1", files)

	require.Equal(t, TypeWelcome, msg.Type)
	require.Len(t, msg.Files, 2)
	require.True(t, msg.Files[1].Tombstone())
}

func TestMessage_String_DoesNotDumpFullFileList(t *testing.T) {
	t.Parallel()

	files := make([]FileMetadata, 500)
	msg := NewWelcome("ws-1", files)

	s := msg.String()
	require.Contains(t, s, "files=500")
	require.NotContains(t, s, "Path")
}

func TestContentHash_Stable(t *testing.T) {
	t.Parallel()

	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	h3 := ContentHash([]byte("world"))

	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
}

func TestNormalizePath_ForwardSlashesAndNFC(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a/b/c.txt", NormalizePath(`a\b\c.txt`))
	require.Equal(t, "a/b.txt", NormalizePath("/a/b.txt"))
	require.Equal(t, "café.txt", NormalizePath("café.txt"))
}

func TestFileMetadata_Supersedes(t *testing.T) {
	t.Parallel()

	existing := FileMetadata{Path: "a.txt", Version: 3}

	require.True(t, FileMetadata{Path: "a.txt", Version: 4}.Supersedes(existing))
	require.False(t, FileMetadata{Path: "a.txt", Version: 3}.Supersedes(existing))
	require.False(t, FileMetadata{Path: "a.txt", Version: 2}.Supersedes(existing))

	// Resurrection: existing is a tombstone, candidate is live, but its
	// version does not strictly increase — still rejected.
	tombstoned := FileMetadata{Path: "a.txt", Version: 5, IsDeleted: true}
	resurrection := FileMetadata{Path: "a.txt", Version: 3, IsDeleted: false}
	require.False(t, resurrection.Supersedes(tombstoned))
}
