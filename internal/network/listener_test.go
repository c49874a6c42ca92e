package network

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) Write(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, text)
	return nil
}

func (l *lines) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func side(t *testing.T, name string) protocol.Side {
	t.Helper()
	s, err := protocol.NewSide("zily", protocol.APIVersion, name)
	require.NoError(t, err)
	return s
}

func startListener(t *testing.T, kind, address string, console session.Console) (*SessionListener, *SessionRegistry, context.CancelFunc, <-chan error) {
	t.Helper()

	registry := NewSessionRegistry()
	l := NewSessionListener(ListenerConfig{
		Kind:    kind,
		Address: address,
		Local:   side(t, "daemon"),
		Options: session.Options{Console: console},
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, l.Bind(ctx))

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	return l, registry, cancel, done
}

func TestSessionListenerTCP(t *testing.T) {
	console := &lines{}
	l, registry, cancel, done := startListener(t, KindTCP, "127.0.0.1:0", console)

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	conn, err := Dial(ctx, KindTCP, l.Addr().String())
	require.NoError(t, err)

	client := session.NewClient(conn, side(t, "client"), session.Options{})
	require.NoError(t, client.Connect(ctx))

	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	v, err := client.QueryVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0", v.String())

	require.NoError(t, client.Write(ctx, "hi"))
	assert.Equal(t, []string{"hi"}, console.Lines())

	infos := registry.Infos()
	require.Len(t, infos, 1)
	require.NotNil(t, infos[0].Peer)
	assert.Equal(t, "client", infos[0].Peer.Name)
	assert.Equal(t, session.StatusOnline, infos[0].Status)

	// A graceful goodbye ends the server session.
	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestSessionListenerShutdownClosesSessions(t *testing.T) {
	l, registry, cancel, done := startListener(t, KindTCP, "127.0.0.1:0", nil)

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	conn, err := Dial(ctx, KindTCP, l.Addr().String())
	require.NoError(t, err)
	client := session.NewClient(conn, side(t, "client"), session.Options{})
	require.NoError(t, client.Connect(ctx))
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	listening := make(chan error, 1)
	go func() { listening <- client.Listen(context.Background()) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	select {
	case err := <-listening:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the shutdown")
	}
	assert.Equal(t, session.StatusOffline, client.Status())
	assert.Equal(t, 0, registry.Count())
}

func TestSessionListenerUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not used on windows")
	}
	path := filepath.Join(t.TempDir(), "zily.sock")
	console := &lines{}
	_, registry, _, _ := startListener(t, KindUnix, path, console)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, KindUnix, path)
	require.NoError(t, err)
	client := session.NewClient(conn, side(t, "client"), session.Options{Plaintext: true})
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Write(ctx, "over a socket"))

	assert.Equal(t, []string{"over a socket"}, console.Lines())
	assert.Equal(t, 1, registry.Count())
}

func TestPendingConn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, KindTCP, "127.0.0.1:0")
	require.NoError(t, err)

	pending := NewPendingConn(ln)
	_, err = pending.Write([]byte{1})
	assert.ErrorIs(t, err, ErrNoPeer)

	console := &lines{}
	server := session.NewServer(pending, side(t, "single"), pending, session.Options{Console: console})
	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept(ctx) }()

	conn, err := Dial(ctx, KindTCP, pending.Addr().String())
	require.NoError(t, err)
	client := session.NewClient(conn, side(t, "client"), session.Options{})
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, <-accepted)

	go func() { _ = server.Listen(ctx) }()
	require.NoError(t, client.Write(ctx, "single peer"))
	assert.Equal(t, []string{"single peer"}, console.Lines())

	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
}

func TestPendingConnCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, KindTCP, "127.0.0.1:0")
	require.NoError(t, err)

	pending := NewPendingConn(ln)
	cancel()
	assert.ErrorIs(t, pending.WaitForPeer(ctx), context.Canceled)
}

func TestDialUnknownKind(t *testing.T) {
	_, err := Dial(context.Background(), "carrier-pigeon", "x")
	assert.Error(t, err)
	_, err = Listen(context.Background(), "carrier-pigeon", "x")
	assert.Error(t, err)
	assert.False(t, ValidKind("carrier-pigeon"))
	assert.True(t, ValidKind(KindPipe))
}
