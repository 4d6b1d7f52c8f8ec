package clientsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/arcfile/logos/internal/protocol"
)

// ErrUnexpectedBinary mirrors internal/session's half-duplex guard on the
// client side: a binary frame arriving without a preceding StartTransfer
// from the server is a protocol violation.
var ErrUnexpectedBinary = errors.New("clientsync: unexpected binary frame from server")

// Channel wraps a single websocket connection to a Logos server, enforcing
// the client's half of the half-duplex StartTransfer/binary framing rule
// (spec.md §9) on frames it sends.
type Channel struct {
	conn *websocket.Conn
}

// Dial connects to the server's /ws/client endpoint.
func Dial(ctx context.Context, url, secret string) (*Channel, error) {
	header := make(map[string][]string)
	if secret != "" {
		header["X-Logos-Secret"] = []string{secret}
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("clientsync: dialing %s: %w", url, err)
	}

	return &Channel{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// SendMessage writes a text frame.
func (c *Channel) SendMessage(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("clientsync: encoding %s: %w", msg.Type, err)
	}

	return c.conn.Write(ctx, websocket.MessageText, data)
}

// SendTransfer writes a StartTransfer header immediately followed by
// exactly one binary frame, the pairing spec.md §4.2/§9 mandates.
func (c *Channel) SendTransfer(ctx context.Context, header protocol.Message, payload []byte) error {
	if err := c.SendMessage(ctx, header); err != nil {
		return err
	}

	return c.conn.Write(ctx, websocket.MessageBinary, payload)
}

var _ Sender = (*Channel)(nil)

// Receive reads the next frame, returning a decoded Message for text frames
// or raw bytes for binary frames (exactly one of the two return values is
// non-zero).
func (c *Channel) Receive(ctx context.Context) (*protocol.Message, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, nil, err
	}

	if typ == websocket.MessageBinary {
		return nil, data, nil
	}

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("clientsync: decoding message: %w", err)
	}

	return &msg, nil, nil
}
