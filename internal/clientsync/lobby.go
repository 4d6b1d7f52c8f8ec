package clientsync

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arcfile/logos/internal/protocol"
)

// LobbyChoice is the user's decision at the lobby prompt: either join an
// existing workspace by ID, or create a new one by name.
type LobbyChoice struct {
	JoinID     string
	CreateName string
}

// RenderLobby prints the numbered storage list and reads one line of input,
// recovered from the original client's interaction shape (a number joins,
// "n" creates a new named workspace) — spec.md §4.7 step 2 names the
// behavior without specifying how the choice is presented.
func RenderLobby(out io.Writer, in io.Reader, storages []protocol.StorageInfo) (LobbyChoice, error) {
	fmt.Fprintln(out, "Available storages:")
	for i, s := range storages {
		fmt.Fprintf(out, "  %d) %s (%s)\n", i+1, s.Name, s.ID)
	}
	fmt.Fprintln(out, "  n) create a new storage")
	fmt.Fprint(out, "> ")

	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return LobbyChoice{}, fmt.Errorf("clientsync: reading lobby choice: %w", err)
	}

	line = strings.TrimSpace(line)

	if strings.EqualFold(line, "n") {
		fmt.Fprint(out, "New storage name: ")
		name, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return LobbyChoice{}, fmt.Errorf("clientsync: reading storage name: %w", err)
		}

		return LobbyChoice{CreateName: strings.TrimSpace(name)}, nil
	}

	idx, err := strconv.Atoi(line)
	if err != nil || idx < 1 || idx > len(storages) {
		return LobbyChoice{}, fmt.Errorf("clientsync: invalid lobby choice %q", line)
	}

	return LobbyChoice{JoinID: storages[idx-1].ID}, nil
}
