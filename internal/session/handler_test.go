package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcfile/logos/internal/protocol"
	"github.com/arcfile/logos/internal/serverstore"
)

func newTestSession(t *testing.T) (*Session, *serverstore.Directory) {
	t.Helper()

	store, err := serverstore.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := serverstore.NewDirectory(store)
	sess := New(dir, t.TempDir(), nil)

	return sess, dir
}

func send(t *testing.T, sess *Session, msg protocol.Message) *protocol.Message {
	t.Helper()

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	reply, err := sess.HandleText(context.Background(), raw)
	require.NoError(t, err)

	return reply
}

// createAndJoin creates a workspace, picks it out of the refreshed
// StorageList the server replies with (CreateStorage never auto-joins), and
// joins it, returning the resulting Welcome.
func createAndJoin(t *testing.T, sess *Session, name string) *protocol.Message {
	t.Helper()

	listReply := send(t, sess, protocol.NewCreateStorage(name))
	require.NotNil(t, listReply)
	require.Equal(t, protocol.TypeStorageList, listReply.Type)

	var storageID string
	for _, s := range listReply.Storages {
		if s.Name == name {
			storageID = s.ID
		}
	}
	require.NotEmpty(t, storageID)

	welcome := send(t, sess, protocol.NewJoinStorage(storageID, "tester"))
	require.NotNil(t, welcome)
	require.Equal(t, protocol.TypeWelcome, welcome.Type)

	return welcome
}

func TestSession_CreateStorage_RepliesStorageListWithoutJoining(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)

	reply := send(t, sess, protocol.NewCreateStorage("team-a"))
	require.NotNil(t, reply)
	require.Equal(t, protocol.TypeStorageList, reply.Type)
	require.Len(t, reply.Storages, 1)
	require.Equal(t, "team-a", reply.Storages[0].Name)
	require.Equal(t, StateLobby, sess.State())
	require.Nil(t, sess.Workspace())
}

func TestSession_CreateThenJoinWorkspace(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)

	welcome := createAndJoin(t, sess, "team-a")
	require.Equal(t, protocol.TypeWelcome, welcome.Type)
	require.Equal(t, StateSynced, sess.State())
	require.NotNil(t, sess.Workspace())
}

func TestSession_RequestStorageList(t *testing.T) {
	t.Parallel()

	sess, dir := newTestSession(t)
	_, err := dir.Create(context.Background(), "existing")
	require.NoError(t, err)

	reply := send(t, sess, protocol.NewRequestStorageList())
	require.NotNil(t, reply)
	require.Equal(t, protocol.TypeStorageList, reply.Type)
	require.Len(t, reply.Storages, 1)
	require.Equal(t, "existing", reply.Storages[0].Name)
}

func TestSession_StartTransferThenBinary_AppliesUpdate(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)
	createAndJoin(t, sess, "team-a")

	reply := send(t, sess, protocol.NewStartTransfer("a.txt", 5, 0))
	require.Nil(t, reply)

	updateReply, err := sess.HandleBinary(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Nil(t, updateReply)

	meta, ok := sess.Workspace().Lookup("a.txt")
	require.True(t, ok)
	require.Equal(t, int64(1), meta.Version)
	require.Equal(t, protocol.ContentHash([]byte("hello")), meta.Hash)

	data, err := os.ReadFile(filepath.Join(sess.uploadsDir, sess.Workspace().ID, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestSession_BinaryWithoutStartTransfer_IsRejected(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)
	createAndJoin(t, sess, "team-a")

	reply, err := sess.HandleBinary(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, protocol.TypeError, reply.Type)
}

func TestSession_TextDuringPendingTransfer_IsRejected(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)
	createAndJoin(t, sess, "team-a")
	send(t, sess, protocol.NewStartTransfer("a.txt", 5, 0))

	reply := send(t, sess, protocol.NewRequestFile("a.txt"))
	require.NotNil(t, reply)
	require.Equal(t, protocol.TypeError, reply.Type)
}

func TestSession_ConflictingUpdate_RepliesConflictDetected(t *testing.T) {
	t.Parallel()

	sess, dir := newTestSession(t)
	welcome := createAndJoin(t, sess, "team-a")

	ws, err := dir.Get(context.Background(), welcome.StorageID)
	require.NoError(t, err)
	require.NoError(t, ws.ProcessUpdate(context.Background(), protocol.FileMetadata{Path: "a.txt", Version: 5}))

	send(t, sess, protocol.NewStartTransfer("a.txt", 5, 1))
	reply, err := sess.HandleBinary(context.Background(), []byte("stale"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, protocol.TypeConflictDetected, reply.Type)
	require.Equal(t, int64(5), reply.ServerVersion)
}

func TestSession_DeleteFile(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)
	createAndJoin(t, sess, "team-a")
	send(t, sess, protocol.NewStartTransfer("a.txt", 5, 0))
	_, err := sess.HandleBinary(context.Background(), []byte("hello"))
	require.NoError(t, err)

	reply := send(t, sess, protocol.NewDeleteFile("a.txt"))
	require.Nil(t, reply)

	meta, ok := sess.Workspace().Lookup("a.txt")
	require.True(t, ok)
	require.True(t, meta.IsDeleted)
}

func TestSession_RequestFile_ReturnsStoredPayload(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t)
	createAndJoin(t, sess, "team-a")
	send(t, sess, protocol.NewStartTransfer("a.txt", 5, 0))
	_, err := sess.HandleBinary(context.Background(), []byte("hello"))
	require.NoError(t, err)

	reply := send(t, sess, protocol.NewRequestFile("a.txt"))
	require.Nil(t, reply)

	require.Len(t, sess.send, 2)

	header := <-sess.send
	require.Equal(t, outboundText, header.kind)

	var headerMsg protocol.Message
	require.NoError(t, json.Unmarshal(header.data, &headerMsg))
	require.Equal(t, protocol.TypeStartTransfer, headerMsg.Type, "RequestFile must reply with StartTransfer, never FileUpdate")
	require.Equal(t, "a.txt", headerMsg.Path)
	require.Equal(t, int64(5), headerMsg.Size)

	binary := <-sess.send
	require.Equal(t, outboundBinary, binary.kind)
	require.Equal(t, "hello", string(binary.data))
}
