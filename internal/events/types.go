// Package events carries session activity to the components that record,
// publish or display it.
package events

import "github.com/zily-project/zily/internal/session"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionOnline   EventType = EventType(session.EventOnline)
	EventSessionOffline  EventType = EventType(session.EventOffline)
	EventSessionRejected EventType = EventType(session.EventRejected)

	// Traffic
	EventConsoleWrite  EventType = EventType(session.EventConsole)
	EventRemoteWarning EventType = EventType(session.EventWarning)
	EventMessage       EventType = EventType(session.EventMessage)

	// System
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// SessionTypes lists every event type produced by sessions.
var SessionTypes = []EventType{
	EventSessionOnline,
	EventSessionOffline,
	EventSessionRejected,
	EventConsoleWrite,
	EventRemoteWarning,
	EventMessage,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionEvent returns the session payload of e, if it carries one.
func (e Event) SessionEvent() (session.Event, bool) {
	ev, ok := e.Payload.(session.Event)
	return ev, ok
}
