package session

import "errors"

var (
	// ErrRequestPending is returned when a request is issued while another
	// one is still waiting for its reply.
	ErrRequestPending = errors.New("a request is already pending on this session")

	// ErrAlreadyListening is returned by a second concurrent Listen call.
	ErrAlreadyListening = errors.New("session is already listening")

	// ErrNotOnline is returned by operations that need a connected peer.
	ErrNotOnline = errors.New("session is not online")

	// ErrPeerDisconnected is returned when the peer says goodbye while a
	// request is waiting for its reply.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrListenerStopped is returned to a routed request whose listen loop
	// exited before the reply arrived.
	ErrListenerStopped = errors.New("listen loop stopped before the reply arrived")
)
