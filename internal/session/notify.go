package session

import (
	"context"
	"time"

	"github.com/zily-project/zily/internal/protocol"
)

// EventKind names a session event.
type EventKind string

const (
	EventOnline   EventKind = "session.online"
	EventOffline  EventKind = "session.offline"
	EventRejected EventKind = "session.rejected"
	EventConsole  EventKind = "console.write"
	EventWarning  EventKind = "remote.warning"
	EventMessage  EventKind = "session.message"
)

// Direction of a message relative to the local side.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Event describes something that happened on a session.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	Local     protocol.Side  `json:"local"`
	Peer      *protocol.Side `json:"peer,omitempty"`
	Flag      protocol.Flag  `json:"flag,omitempty"`
	Direction string         `json:"direction,omitempty"`
	Text      string         `json:"text,omitempty"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier receives session events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
