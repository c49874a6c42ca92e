package scheduler

import (
	"context"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	intnet "github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

type idleStream struct{}

func (idleStream) Read([]byte) (int, error)    { return 0, io.EOF }
func (idleStream) Write(p []byte) (int, error) { return len(p), nil }
func (idleStream) Flush() error                { return nil }

func newSession(t *testing.T) *session.Session {
	t.Helper()
	local, err := protocol.NewSide("zily", protocol.APIVersion, "daemon")
	require.NoError(t, err)
	return session.New(idleStream{}, local, session.Options{})
}

func configWith(idleSeconds int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transport.IdleTimeout = idleSeconds
	return cfg
}

func TestCleanStaleSessions(t *testing.T) {
	registry := intnet.NewSessionRegistry()
	registry.Register(newSession(t))

	disabled := NewScheduler(configWith(0), registry, nil, nil)
	assert.Equal(t, 0, disabled.cleanStaleSessions())
	assert.Equal(t, 1, registry.Count())

	s := NewScheduler(configWith(1), registry, nil, nil)
	assert.Equal(t, 0, s.cleanStaleSessions())

	require.Eventually(t, func() bool {
		return s.cleanStaleSessions() == 1
	}, 3*time.Second, 100*time.Millisecond)
	assert.Equal(t, 0, registry.Count())
}

func TestPruneJournal(t *testing.T) {
	journal, err := db.NewJournal(filepath.Join(t.TempDir(), "journal.db"), true)
	require.NoError(t, err)
	defer journal.Close()

	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, journal.RecordEvent(ctx, session.Event{Kind: session.EventOnline, SessionID: "old", At: old}))
	require.NoError(t, journal.RecordEvent(ctx, session.Event{Kind: session.EventOffline, SessionID: "old", At: old}))
	require.NoError(t, journal.RecordEvent(ctx, session.Event{Kind: session.EventOnline, SessionID: "new", At: time.Now()}))

	s := NewScheduler(config.DefaultConfig(), intnet.NewSessionRegistry(), journal, nil)
	s.pruneJournal(ctx)

	records, err := journal.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].ID)
}

func TestHeartbeatReportsSessionCount(t *testing.T) {
	registry := intnet.NewSessionRegistry()
	registry.Register(newSession(t))
	registry.Register(newSession(t))

	var got atomic.Int32
	s := NewScheduler(config.DefaultConfig(), registry, nil, func(n int) { got.Store(int32(n)) })
	s.beat()
	assert.Equal(t, int32(2), got.Load())
}

func TestRunEvery(t *testing.T) {
	s := NewScheduler(config.DefaultConfig(), intnet.NewSessionRegistry(), nil, nil)

	// Disabled tasks return at once.
	done := make(chan struct{})
	go func() {
		s.runEvery(context.Background(), "off", 0, func(context.Context) { t.Error("disabled task ran") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled task did not return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	stopped := make(chan struct{})
	go func() {
		s.runEvery(ctx, "fast", 5*time.Millisecond, func(context.Context) { calls.Add(1) })
		close(stopped)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-stopped
}

func TestStartStopsWithContext(t *testing.T) {
	s := NewScheduler(configWith(60), intnet.NewSessionRegistry(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
