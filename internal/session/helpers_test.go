package session

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/encryption"
	"github.com/zily-project/zily/internal/protocol"
)

// bufferStream replays canned input and records everything written.
type bufferStream struct {
	in      *bytes.Reader
	out     bytes.Buffer
	flushes int
}

func newBufferStream(t *testing.T, replies ...*protocol.Header) *bufferStream {
	t.Helper()
	var in bytes.Buffer
	for _, h := range replies {
		require.NoError(t, protocol.WriteHeader(&in, h))
	}
	return &bufferStream{in: bytes.NewReader(in.Bytes())}
}

func (b *bufferStream) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b *bufferStream) Write(p []byte) (int, error) { return b.out.Write(p) }
func (b *bufferStream) Flush() error                { b.flushes++; return nil }

// written decodes every header the session wrote.
func (b *bufferStream) written(t *testing.T) []*protocol.Header {
	t.Helper()
	r := bytes.NewReader(b.out.Bytes())
	var out []*protocol.Header
	for r.Len() > 0 {
		h, err := protocol.Decode(r, encryption.None{})
		require.NoError(t, err)
		out = append(out, h)
	}
	return out
}

// pipeStream adapts one end of net.Pipe to Stream.
type pipeStream struct {
	net.Conn
}

func (pipeStream) Flush() error { return nil }

type recordingConsole struct {
	mu    sync.Mutex
	lines []string
}

func (c *recordingConsole) Write(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
	return nil
}

func (c *recordingConsole) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func testSide(t *testing.T, protocolName, name string) protocol.Side {
	t.Helper()
	side, err := protocol.NewSide(protocolName, protocol.APIVersion, name)
	require.NoError(t, err)
	return side
}

func textHeader(t *testing.T, flag protocol.Flag, text string) *protocol.Header {
	t.Helper()
	h, err := protocol.NewHeader(encryption.None{}, flag, text)
	require.NoError(t, err)
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connectPair runs a full handshake over net.Pipe.
func connectPair(t *testing.T, clientOpts, serverOpts Options) (*Client, *Server) {
	t.Helper()
	ctx := testContext(t)

	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	client := NewClient(pipeStream{a}, testSide(t, "zily", "client"), clientOpts)
	server := NewServer(pipeStream{b}, testSide(t, "zily", "server"), nil, serverOpts)

	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept(ctx) }()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, <-accepted)
	return client, server
}

// listen runs Listen in the background and returns its result channel.
func listen(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Listen(context.Background()) }()
	require.Eventually(t, func() bool { return s.Info().Listening }, time.Second, time.Millisecond)
	return done
}
