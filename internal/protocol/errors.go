package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrProtocolMismatch is returned when the peer speaks another protocol.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrVersionMismatch is returned when the peer's major version differs.
	ErrVersionMismatch = errors.New("major version mismatch")

	// ErrHandshakeRejected marks a handshake aborted by identity checks.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrInvalidSide is returned for identities that cannot be serialized.
	ErrInvalidSide = errors.New("invalid side identity")
)

// FramingError reports a corrupt or oversized frame. It is raised locally
// and never comes from the peer.
type FramingError struct {
	Flag Flag
	Err  error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error on %s: %v", e.Flag, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a flag received where the protocol does not allow it.
// The peer has already been answered with Fail carrying Reason.
type ProtocolError struct {
	Flag   Flag
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

// RemoteError carries the text of a Fail response sent by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemote reports whether err was reported by the peer.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsFraming reports whether err is a local wire failure.
func IsFraming(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
