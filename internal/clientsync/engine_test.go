package clientsync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcfile/logos/internal/protocol"
)

type fakeBackend struct {
	mu       sync.Mutex
	files    map[string][]byte
	readOnly bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: make(map[string][]byte)}
}

func (f *fakeBackend) ListFiles(_ context.Context) ([]protocol.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.FileMetadata, 0, len(f.files))
	for path, data := range f.files {
		out = append(out, protocol.FileMetadata{Path: path, Size: int64(len(data))})
	}

	return out, nil
}

func (f *fakeBackend) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[path]
	if !ok {
		return nil, errNotFound
	}

	return data, nil
}

func (f *fakeBackend) WriteFile(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[path] = data

	return nil
}

func (f *fakeBackend) DeleteFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, path)

	return nil
}

func (f *fakeBackend) ID() string     { return "fake" }
func (f *fakeBackend) ReadOnly() bool { return f.readOnly }

type errNotFoundType struct{}

func (errNotFoundType) Error() string { return "not found" }

var errNotFound = errNotFoundType{}

type fakeSender struct {
	mu        sync.Mutex
	messages  []protocol.Message
	transfers []protocol.Message
}

func (f *fakeSender) SendMessage(_ context.Context, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, msg)

	return nil
}

func (f *fakeSender) SendTransfer(_ context.Context, header protocol.Message, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transfers = append(f.transfers, header)

	return nil
}

func TestEngine_Reconcile_UploadsNewLocalFile(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.files["a.txt"] = []byte("hello")
	sender := &fakeSender{}

	e := NewEngine(be, sender, nil)
	require.NoError(t, e.Reconcile(context.Background(), "ws1", nil))

	require.Len(t, sender.transfers, 1)
	require.Equal(t, "a.txt", sender.transfers[0].Path)
}

func TestEngine_Reconcile_RequestsNewerRemoteFile(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	sender := &fakeSender{}

	e := NewEngine(be, sender, nil)
	remote := []protocol.FileMetadata{{Path: "b.txt", Modified: 100, Version: 1}}
	require.NoError(t, e.Reconcile(context.Background(), "ws1", remote))

	require.Len(t, sender.messages, 1)
	require.Equal(t, protocol.TypeRequestFile, sender.messages[0].Type)
	require.Equal(t, "b.txt", sender.messages[0].Path)
}

func TestEngine_Reconcile_SkipsTombstones(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	sender := &fakeSender{}

	e := NewEngine(be, sender, nil)
	remote := []protocol.FileMetadata{{Path: "gone.txt", Version: 2, IsDeleted: true}}
	require.NoError(t, e.Reconcile(context.Background(), "ws1", remote))

	require.Empty(t, sender.messages)
}

func TestEngine_HandleInbound_StartTransferWritesFile(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	sender := &fakeSender{}
	e := NewEngine(be, sender, nil)

	msg := protocol.NewStartTransfer("c.txt", 5, 1)
	err := e.HandleInbound(context.Background(), msg, func(context.Context) ([]byte, error) {
		return []byte("world"), nil
	})
	require.NoError(t, err)

	data, err := be.ReadFile(context.Background(), "c.txt")
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
}

func TestEngine_HandleInbound_DeleteFile(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.files["d.txt"] = []byte("bye")
	sender := &fakeSender{}
	e := NewEngine(be, sender, nil)

	err := e.HandleInbound(context.Background(), protocol.NewDeleteFile("d.txt"), nil)
	require.NoError(t, err)

	_, err = be.ReadFile(context.Background(), "d.txt")
	require.Error(t, err)
}

func TestEngine_OnLocalChange_SuppressesEchoOfServerWrite(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	be.files["e.txt"] = []byte("payload")
	sender := &fakeSender{}
	e := NewEngine(be, sender, nil)

	// Simulate having just written this content from the server.
	e.cache.Remember("e.txt", protocol.ContentHash([]byte("payload")))

	err := e.OnLocalChange(context.Background(), Change{Path: "e.txt", Kind: ChangeWrite})
	require.NoError(t, err)
	require.Empty(t, sender.transfers)
}

func TestEngine_OnLocalChange_RemoveSuppressedByPendingDelete(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	sender := &fakeSender{}
	e := NewEngine(be, sender, nil)

	e.cache.MarkPendingDelete("f.txt")

	err := e.OnLocalChange(context.Background(), Change{Path: "f.txt", Kind: ChangeRemove})
	require.NoError(t, err)
	require.Empty(t, sender.messages)
}

func TestEngine_OnLocalChange_RemoveSendsDeleteFile(t *testing.T) {
	t.Parallel()

	be := newFakeBackend()
	sender := &fakeSender{}
	e := NewEngine(be, sender, nil)

	err := e.OnLocalChange(context.Background(), Change{Path: "g.txt", Kind: ChangeRemove})
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)
	require.Equal(t, protocol.TypeDeleteFile, sender.messages[0].Type)
}
