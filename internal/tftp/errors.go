package tftp

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors classifying the core boundary failures. Callers should
// use errors.Is/errors.As rather than comparing strings.
var (
	// ErrEncodingTooLarge is returned when a packet's on-wire size would
	// exceed MaxMsgSize.
	ErrEncodingTooLarge = errors.New("tftp: encoded packet exceeds 516 bytes")

	// ErrUnreachable is returned when no resolved address candidate
	// yielded a usable socket.
	ErrUnreachable = errors.New("tftp: no reachable address for host")

	// ErrTimeout is returned when the retry budget is exhausted without
	// forward progress.
	ErrTimeout = errors.New("tftp: timed out waiting for reply")

	// ErrMalformed marks a received datagram as too short or missing a
	// required NUL terminator. Never fatal: the caller drops the
	// datagram and keeps the retry budget.
	ErrMalformed = errors.New("tftp: malformed datagram")
)

// PeerError wraps a server-reported ERROR packet.
type PeerError struct {
	Code ErrorCode
	Text string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("tftp error %d: %s", e.Code, e.Text)
}

// LocalIOError wraps an I/O failure on the local file or the socket.
type LocalIOError struct {
	Op  string
	Err error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("tftp: %s: %v", e.Op, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// wrapLocalIO builds a LocalIOError annotated with op, using pkg/errors so
// the resulting chain carries a stack trace for verbose diagnostics.
func wrapLocalIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalIOError{Op: op, Err: pkgerrors.Wrap(err, op)}
}
