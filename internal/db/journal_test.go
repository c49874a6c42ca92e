package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/events"
	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

var (
	localSide = protocol.Side{Protocol: "zily", Version: protocol.APIVersion, Name: "server"}
	peerSide  = protocol.Side{Protocol: "zily", Version: protocol.APIVersion, Name: "client"}
)

func newTestJournal(t *testing.T, recordText bool) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), recordText)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func sessionEvent(kind session.EventKind, id string, at time.Time) session.Event {
	peer := peerSide
	return session.Event{Kind: kind, SessionID: id, Local: localSide, Peer: &peer, At: at}
}

func TestJournalLifecycle(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t, true)
	start := time.Now().Add(-time.Minute)

	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOnline, "s1", start)))

	msg := sessionEvent(session.EventMessage, "s1", start.Add(time.Second))
	msg.Flag = protocol.Write
	msg.Direction = session.DirectionIn
	msg.Text = "hi"
	require.NoError(t, j.RecordEvent(ctx, msg))

	console := sessionEvent(session.EventConsole, "s1", start.Add(2*time.Second))
	console.Text = "hi"
	require.NoError(t, j.RecordEvent(ctx, console))

	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOffline, "s1", start.Add(3*time.Second))))

	sessions, err := j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, JournalOffline, s.Status)
	assert.Equal(t, "client", s.Peer)
	assert.Equal(t, "zily", s.Protocol)
	assert.Equal(t, "2.0", s.Version)
	assert.Equal(t, localSide.String(), s.Local)
	assert.Equal(t, 2, s.Messages)
	require.NotNil(t, s.ClosedAt)
	assert.Equal(t, start.UnixNano(), s.OpenedAt.UnixNano())

	messages, err := j.Messages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, string(session.EventMessage), messages[0].Kind)
	assert.Equal(t, "Write", messages[0].Flag)
	assert.Equal(t, session.DirectionIn, messages[0].Direction)
	assert.Equal(t, "hi", messages[0].Text)
	assert.Equal(t, string(session.EventConsole), messages[1].Kind)
}

func TestJournalOutOfOrderEventsKeepSessionClosed(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t, true)
	now := time.Now()

	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOffline, "s2", now)))
	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOnline, "s2", now.Add(-time.Second))))

	sessions, err := j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, JournalOffline, sessions[0].Status)
	assert.Equal(t, now.Add(-time.Second).UnixNano(), sessions[0].OpenedAt.UnixNano())
}

func TestJournalRejectedSession(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t, true)

	ev := sessionEvent(session.EventRejected, "s3", time.Now())
	ev.Error = "major version mismatch"
	require.NoError(t, j.RecordEvent(ctx, ev))

	sessions, err := j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, JournalRejected, sessions[0].Status)
	assert.Equal(t, "major version mismatch", sessions[0].Error)
}

func TestJournalWithoutText(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t, false)

	ev := sessionEvent(session.EventMessage, "s4", time.Now())
	ev.Text = "secret"
	require.NoError(t, j.RecordEvent(ctx, ev))

	messages, err := j.Messages(ctx, "s4", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Empty(t, messages[0].Text)
}

func TestJournalPrune(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t, true)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOnline, "old", old)))
	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventMessage, "old", old)))
	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOffline, "old", old.Add(time.Minute))))

	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventOnline, "live", old)))
	require.NoError(t, j.RecordEvent(ctx, sessionEvent(session.EventMessage, "live", recent)))

	n, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sessions, err := j.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "live", sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Messages)
}

func TestJournalSubscribe(t *testing.T) {
	j := newTestJournal(t, true)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	notifier := events.NewSessionNotifier(bus)
	notifier.Notify(context.Background(), sessionEvent(session.EventOnline, "bus", time.Now()))
	bus.Stop()

	sessions, err := j.RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "bus", sessions[0].ID)
	assert.Equal(t, JournalOnline, sessions[0].Status)
}
