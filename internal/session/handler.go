package session

import (
	"context"
	"fmt"

	"github.com/zily-project/zily/internal/protocol"
)

// Responder lets an UnhandledFlagHandler answer the peer.
type Responder interface {
	Reply(flag protocol.Flag, text string) error
}

// UnhandledFlagHandler decides what happens to a request flag the engine has
// no built-in handler for. The header payload has already been consumed from
// the stream.
type UnhandledFlagHandler interface {
	HandleFlag(ctx context.Context, r Responder, h *protocol.Header) error
}

// HandlerFunc adapts a function to the UnhandledFlagHandler interface.
type HandlerFunc func(ctx context.Context, r Responder, h *protocol.Header) error

func (f HandlerFunc) HandleFlag(ctx context.Context, r Responder, h *protocol.Header) error {
	return f(ctx, r, h)
}

// RejectUnhandled answers every flag with Fail and reports a protocol error.
type RejectUnhandled struct{}

func (RejectUnhandled) HandleFlag(_ context.Context, r Responder, h *protocol.Header) error {
	reason := UnsupportedFlagMessage(h.Flag())
	if err := r.Reply(protocol.Fail, reason); err != nil {
		return err
	}
	return &protocol.ProtocolError{Flag: h.Flag(), Reason: reason}
}

// UnsupportedFlagMessage is the Fail text sent for unsupported flags.
func UnsupportedFlagMessage(flag protocol.Flag) string {
	return fmt.Sprintf("The flag %q is not supported.", flag.String())
}

// Mux routes unhandled flags to per-flag handlers and falls back to another
// handler for the rest.
type Mux struct {
	routes   map[protocol.Flag]UnhandledFlagHandler
	fallback UnhandledFlagHandler
}

// NewMux returns a Mux that rejects flags without a route.
func NewMux() *Mux {
	return &Mux{
		routes:   make(map[protocol.Flag]UnhandledFlagHandler),
		fallback: RejectUnhandled{},
	}
}

// Handle registers h for flag.
func (m *Mux) Handle(flag protocol.Flag, h UnhandledFlagHandler) *Mux {
	m.routes[flag] = h
	return m
}

// HandleFunc registers a function for flag.
func (m *Mux) HandleFunc(flag protocol.Flag, f func(ctx context.Context, r Responder, h *protocol.Header) error) *Mux {
	return m.Handle(flag, HandlerFunc(f))
}

func (m *Mux) HandleFlag(ctx context.Context, r Responder, h *protocol.Header) error {
	if route, ok := m.routes[h.Flag()]; ok {
		return route.HandleFlag(ctx, r, h)
	}
	return m.fallback.HandleFlag(ctx, r, h)
}
