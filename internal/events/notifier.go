package events

import (
	"context"

	"github.com/zily-project/zily/internal/session"
)

// SessionSource is the Source of events forwarded from sessions.
const SessionSource = "session"

// SessionNotifier forwards session events onto an EventBus.
type SessionNotifier struct {
	bus *EventBus
}

// NewSessionNotifier returns a session.Notifier publishing to bus.
func NewSessionNotifier(bus *EventBus) *SessionNotifier {
	return &SessionNotifier{bus: bus}
}

// Notify implements session.Notifier. Delivery is asynchronous and uses a
// context detached from the session so handlers outlive the request.
func (n *SessionNotifier) Notify(ctx context.Context, ev session.Event) {
	n.bus.Emit(context.WithoutCancel(ctx), Event{
		Type:    EventType(ev.Kind),
		Source:  SessionSource,
		Payload: ev,
	})
}

// SubscribeSessions registers handler for every session event type.
func (eb *EventBus) SubscribeSessions(name string, handler HandlerFunc) {
	for _, t := range SessionTypes {
		eb.Subscribe(t, name, handler)
	}
}

var _ session.Notifier = (*SessionNotifier)(nil)
