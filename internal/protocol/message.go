// Package protocol defines the wire-level message taxonomy shared between
// the Logos server and client: the tagged Message envelope carried over the
// persistent bidirectional channel, and the FileMetadata record that both
// sides reason about.
package protocol

import "fmt"

// MessageType discriminates the tagged Message union. Every text frame on
// the wire is a JSON object with a "type" field set to one of these values.
type MessageType string

// Message type tags. See data-model.md for the full taxonomy; this is the
// "fullest variant" shape — workspaces, client_name on JoinStorage,
// last_modified_by on FileMetadata, and a separate dashboard telemetry pair.
const (
	TypeRequestStorageList MessageType = "RequestStorageList"
	TypeStorageList        MessageType = "StorageList"
	TypeCreateStorage      MessageType = "CreateStorage"
	TypeJoinStorage        MessageType = "JoinStorage"
	TypeWelcome            MessageType = "Welcome"
	TypeStartTransfer      MessageType = "StartTransfer"
	TypeRequestFile        MessageType = "RequestFile"
	TypeDeleteFile         MessageType = "DeleteFile"
	TypeConflictDetected   MessageType = "ConflictDetected"
	TypeError              MessageType = "Error"
	TypeFileUpdate         MessageType = "FileUpdate"
	TypeRegisterDashboard  MessageType = "RegisterDashboard"
	TypeDashboardSnapshot  MessageType = "DashboardSnapshot"
)

// StorageInfo is a single entry in a StorageList message: the workspace
// directory spec.md §3 describes as "persisted list of (id, name)".
type StorageInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is the tagged envelope for every text frame. Exactly one of the
// payload fields is populated per Type; callers should use the New*
// constructors rather than building a Message by hand so an envelope never
// mixes fields from two variants.
type Message struct {
	Type MessageType `json:"type"`

	// CreateStorage, JoinStorage
	StorageID   string `json:"storage_id,omitempty"`
	StorageName string `json:"storage_name,omitempty"`
	ClientName  string `json:"client_name,omitempty"`

	// StorageList
	Storages []StorageInfo `json:"storages,omitempty"`

	// Welcome
	Files []FileMetadata `json:"files,omitempty"`

	// StartTransfer
	Path          string `json:"path,omitempty"`
	Size          int64  `json:"size,omitempty"`
	TargetVersion int64  `json:"target_version,omitempty"`

	// ConflictDetected
	ServerVersion int64 `json:"server_version,omitempty"`

	// Error
	ErrMessage string `json:"message,omitempty"`

	// FileUpdate
	Meta *FileMetadata `json:"meta,omitempty"`

	// RegisterDashboard / DashboardSnapshot — message shape only, per
	// spec.md's non-goal excluding the dashboard telemetry stream itself.
	DashboardToken string          `json:"dashboard_token,omitempty"`
	Workspaces     []DashboardRoom `json:"workspaces,omitempty"`
}

// DashboardRoom is one workspace's summary row in a DashboardSnapshot.
type DashboardRoom struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClientCount int    `json:"client_count"`
	FileCount   int    `json:"file_count"`
}

func NewRequestStorageList() Message {
	return Message{Type: TypeRequestStorageList}
}

func NewStorageList(storages []StorageInfo) Message {
	return Message{Type: TypeStorageList, Storages: storages}
}

func NewCreateStorage(name string) Message {
	return Message{Type: TypeCreateStorage, StorageName: name}
}

func NewJoinStorage(storageID, clientName string) Message {
	return Message{Type: TypeJoinStorage, StorageID: storageID, ClientName: clientName}
}

func NewWelcome(storageID string, files []FileMetadata) Message {
	return Message{Type: TypeWelcome, StorageID: storageID, Files: files}
}

func NewStartTransfer(path string, size, targetVersion int64) Message {
	return Message{Type: TypeStartTransfer, Path: path, Size: size, TargetVersion: targetVersion}
}

func NewRequestFile(path string) Message {
	return Message{Type: TypeRequestFile, Path: path}
}

func NewDeleteFile(path string) Message {
	return Message{Type: TypeDeleteFile, Path: path}
}

func NewConflictDetected(path string, serverVersion int64) Message {
	return Message{Type: TypeConflictDetected, Path: path, ServerVersion: serverVersion}
}

func NewError(message string) Message {
	return Message{Type: TypeError, ErrMessage: message}
}

func NewFileUpdate(meta FileMetadata) Message {
	return Message{Type: TypeFileUpdate, Meta: &meta}
}

func NewRegisterDashboard(token string) Message {
	return Message{Type: TypeRegisterDashboard, DashboardToken: token}
}

func NewDashboardSnapshot(rooms []DashboardRoom) Message {
	return Message{Type: TypeDashboardSnapshot, Workspaces: rooms}
}

// String renders a Message for logging without dumping full file lists.
func (m Message) String() string {
	switch m.Type {
	case TypeWelcome:
		return fmt.Sprintf("Welcome{storage_id=%s, files=%d}", m.StorageID, len(m.Files))
	case TypeStartTransfer:
		return fmt.Sprintf("StartTransfer{path=%s, size=%d, target_version=%d}", m.Path, m.Size, m.TargetVersion)
	case TypeConflictDetected:
		return fmt.Sprintf("ConflictDetected{path=%s, server_version=%d}", m.Path, m.ServerVersion)
	default:
		return string(m.Type)
	}
}
