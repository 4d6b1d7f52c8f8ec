package session

import (
	"errors"
	"fmt"

	"github.com/arcfile/logos/internal/protocol"
)

// TransferPhase tracks which half of the half-duplex StartTransfer/binary
// pairing a connection is in. spec.md §9 requires this to be an explicit
// state, never inferred from frame contents — a StartTransfer message must
// be followed by exactly one binary frame before anything else is accepted.
type TransferPhase int

const (
	// TransferIdle means the next text frame is interpreted normally; a
	// binary frame arriving in this phase is a protocol violation.
	TransferIdle TransferPhase = iota
	// TransferExpectingBinary means a StartTransfer was just received and
	// the very next frame on the connection must be the matching binary
	// payload; any other text message is a protocol violation.
	TransferExpectingBinary
)

// ErrUnexpectedBinary is returned when a binary frame arrives while the
// connection is not expecting one.
var ErrUnexpectedBinary = errors.New("session: unexpected binary frame")

// ErrUnexpectedText is returned when a text frame arrives while the
// connection is mid-transfer, expecting the paired binary frame.
var ErrUnexpectedText = errors.New("session: expected binary transfer payload")

// TransferState holds the pending StartTransfer header between receiving it
// and receiving its paired binary frame.
type TransferState struct {
	phase   TransferPhase
	pending protocol.Message
}

// BeginTransfer records a StartTransfer header and arms the state machine
// to expect exactly one binary frame next.
func (t *TransferState) BeginTransfer(header protocol.Message) {
	t.phase = TransferExpectingBinary
	t.pending = header
}

// AcceptText reports whether a text frame is allowed right now, returning
// an error if the connection is mid-transfer.
func (t *TransferState) AcceptText() error {
	if t.phase == TransferExpectingBinary {
		return fmt.Errorf("%w: have pending StartTransfer for %s", ErrUnexpectedText, t.pending.Path)
	}

	return nil
}

// AcceptBinary consumes the pending StartTransfer header for an incoming
// binary frame, returning it and resetting the state to idle. Returns
// ErrUnexpectedBinary if no transfer was announced.
func (t *TransferState) AcceptBinary() (protocol.Message, error) {
	if t.phase != TransferExpectingBinary {
		return protocol.Message{}, ErrUnexpectedBinary
	}

	header := t.pending
	t.phase = TransferIdle
	t.pending = protocol.Message{}

	return header, nil
}
