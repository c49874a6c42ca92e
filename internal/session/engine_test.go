package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/protocol"
)

func TestSendStoresPeerVersion(t *testing.T) {
	stream := newBufferStream(t, textHeader(t, protocol.VersionInfo, "2.0"))
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	v, err := s.QueryVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0", v.String())
	assert.Equal(t, "2.0", s.PeerVersion().String())
	assert.Equal(t, protocol.Unknown, s.LastRequest())
	assert.Equal(t, "Version", s.Info().LastRequest)
	assert.Empty(t, s.Info().Pending)

	out := stream.written(t)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.VersionQuery, out[0].Flag())
	assert.Equal(t, 1, stream.flushes)
}

func TestSendFailPropagation(t *testing.T) {
	stream := newBufferStream(t, textHeader(t, protocol.Fail, "boom"))
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	err := s.Write(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestSendTooLargeWritesNothing(t *testing.T) {
	stream := newBufferStream(t)
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	big := make([]rune, protocol.MaxPayloadSize)
	for i := range big {
		big[i] = 'x'
	}

	err := s.Write(context.Background(), string(big))
	assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
	assert.Equal(t, 0, stream.out.Len())
}

func TestSendReadFailure(t *testing.T) {
	stream := newBufferStream(t)
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	err := s.Write(context.Background(), "hi")
	require.Error(t, err)
	assert.False(t, protocol.IsRemote(err))
}

func TestSendPeerDisconnected(t *testing.T) {
	stream := newBufferStream(t, protocol.NewEmptyHeader(protocol.Disconnected))
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	err := s.Write(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrPeerDisconnected)
	assert.Equal(t, StatusOffline, s.Status())
}

func TestSendCancelledContext(t *testing.T) {
	stream := newBufferStream(t)
	s := New(stream, testSide(t, "zily", "cli"), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Write(ctx, "hi"), context.Canceled)
	assert.Equal(t, 0, stream.out.Len())
}

func TestVersionQueryScenario(t *testing.T) {
	client, server := connectPair(t, Options{}, Options{})
	listen(t, server.Session)

	v, err := client.QueryVersion(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "2.0", v.String())
	assert.Equal(t, "2.0", client.PeerVersion().String())
}

func TestUnsupportedFlagScenario(t *testing.T) {
	client, server := connectPair(t, Options{}, Options{})
	listen(t, server.Session)

	err := client.Send(testContext(t), protocol.Flag(250), "")
	require.Error(t, err)
	assert.True(t, protocol.IsRemote(err))
	assert.Contains(t, err.Error(), "250")

	// The session stays usable after a rejected request.
	assert.NoError(t, client.Write(testContext(t), "still here"))
}

func TestConsoleWriteScenario(t *testing.T) {
	console := &recordingConsole{}
	client, server := connectPair(t, Options{}, Options{Console: console})
	listen(t, server.Session)

	require.NoError(t, client.Write(testContext(t), "hi"))
	assert.Equal(t, []string{"hi"}, console.Lines())
}

func TestRemoteFailScenario(t *testing.T) {
	boom := HandlerFunc(func(_ context.Context, r Responder, _ *protocol.Header) error {
		return r.Reply(protocol.Fail, "boom")
	})
	client, server := connectPair(t, Options{}, Options{Handler: boom})
	listen(t, server.Session)

	err := client.Send(testContext(t), protocol.Flag(99), "payload")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestWarnResponseIsSuccess(t *testing.T) {
	warn := HandlerFunc(func(_ context.Context, r Responder, _ *protocol.Header) error {
		return r.Reply(protocol.Warn, "careful")
	})
	notifier := &recordingNotifier{}
	client, server := connectPair(t, Options{Notifier: notifier}, Options{Handler: warn})
	listen(t, server.Session)

	require.NoError(t, client.Send(testContext(t), protocol.Flag(99), ""))
	assert.Contains(t, notifier.Kinds(), EventWarning)
}

func TestListenRoutesReplies(t *testing.T) {
	clientConsole := &recordingConsole{}
	serverConsole := &recordingConsole{}
	client, server := connectPair(t,
		Options{Console: clientConsole},
		Options{Console: serverConsole},
	)
	listen(t, client.Session)
	listen(t, server.Session)

	ctx := testContext(t)
	require.NoError(t, client.Write(ctx, "to server"))
	require.NoError(t, server.Write(ctx, "to client"))

	v, err := server.QueryVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0", v.String())

	assert.Equal(t, []string{"to server"}, serverConsole.Lines())
	assert.Equal(t, []string{"to client"}, clientConsole.Lines())
}

func TestSecondListenRejected(t *testing.T) {
	client, _ := connectPair(t, Options{}, Options{})
	listen(t, client.Session)

	assert.ErrorIs(t, client.Listen(context.Background()), ErrAlreadyListening)
}

func TestConcurrentRequestRejected(t *testing.T) {
	client, server := connectPair(t, Options{}, Options{})
	ctx := testContext(t)

	// Nobody reads the server side yet, so the first request blocks.
	first := make(chan error, 1)
	go func() { first <- client.Write(ctx, "first") }()
	require.Eventually(t, func() bool {
		return client.LastRequest() == protocol.Write
	}, time.Second, time.Millisecond)
	assert.Equal(t, "Write", client.Info().Pending)

	assert.ErrorIs(t, client.Send(ctx, protocol.VersionQuery, ""), ErrRequestPending)
	assert.ErrorIs(t, client.Listen(ctx), ErrRequestPending)

	listen(t, server.Session)
	require.NoError(t, <-first)
	assert.NoError(t, client.Send(ctx, protocol.VersionQuery, ""))
	assert.Equal(t, protocol.Unknown, client.LastRequest())
}

func TestCloseNotifiesPeer(t *testing.T) {
	clientEvents := &recordingNotifier{}
	serverEvents := &recordingNotifier{}
	client, server := connectPair(t, Options{Notifier: clientEvents}, Options{Notifier: serverEvents})
	clientDone := listen(t, client.Session)
	serverDone := listen(t, server.Session)

	require.NoError(t, client.Close())

	select {
	case err := <-serverDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server listen loop did not stop")
	}
	select {
	case err := <-clientDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client listen loop did not stop")
	}

	assert.Equal(t, StatusOffline, client.Status())
	assert.Equal(t, StatusOffline, server.Status())
	assert.NoError(t, client.Close())

	assert.Contains(t, clientEvents.Kinds(), EventOffline)
	assert.Contains(t, serverEvents.Kinds(), EventOffline)
}

func TestListenRequiresOnline(t *testing.T) {
	s := New(newBufferStream(t), testSide(t, "zily", "x"), Options{})
	assert.NoError(t, s.Listen(context.Background()))
	assert.Equal(t, StatusOffline, s.Status())
}

func TestListenEndsOnStreamFailure(t *testing.T) {
	_, server := connectPair(t, Options{}, Options{})
	done := listen(t, server.Session)

	// Closing the transport under the loop is a normal exit.
	require.NoError(t, server.stream.(pipeStream).Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen loop did not stop")
	}
	assert.Equal(t, StatusOffline, server.Status())
}

func TestListenCancelledBetweenMessages(t *testing.T) {
	client, server := connectPair(t, Options{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx) }()
	require.Eventually(t, func() bool { return server.Info().Listening }, time.Second, time.Millisecond)

	cancel()
	// The loop notices cancellation once the current read returns.
	require.NoError(t, client.Write(testContext(t), "wake up"))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("listen loop ignored cancellation")
	}
}

func TestLastRequestClearedAfterReply(t *testing.T) {
	stream := newBufferStream(t, protocol.NewEmptyHeader(protocol.Ok), textHeader(t, protocol.Fail, "nope"))
	s := New(stream, testSide(t, "zily", "cli"), Options{})
	assert.Equal(t, protocol.Unknown, s.LastRequest())

	require.NoError(t, s.Send(context.Background(), protocol.Write, "hi"))
	assert.Equal(t, protocol.Unknown, s.LastRequest())

	require.Error(t, s.Send(context.Background(), protocol.Write, "again"))
	assert.Equal(t, protocol.Unknown, s.LastRequest())
	assert.Equal(t, "Write", s.Info().LastRequest)
}

func TestKeyReplyHasNoTextView(t *testing.T) {
	key := make([]byte, 32)
	key[1] = 0xD8
	blob, err := protocol.NewRawHeader(protocol.Ok, key)
	require.NoError(t, err)

	s := New(newBufferStream(t, blob), testSide(t, "zily", "cli"), Options{})
	reply, err := s.request(context.Background(), protocol.AesKey, "")
	require.NoError(t, err)

	assert.Equal(t, key, reply.Payload())
	_, ok := reply.Text()
	assert.False(t, ok)
}
