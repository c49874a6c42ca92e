package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/protocol"
)

func TestRemoteWriterFlushSendsOneWrite(t *testing.T) {
	stream := newBufferStream(t, protocol.NewEmptyHeader(protocol.Ok))
	s := New(stream, testSide(t, "zily", "cli"), Options{})
	w := NewRemoteWriter(s)

	_, err := fmt.Fprint(w, "hello ")
	require.NoError(t, err)
	_, err = w.WriteString("world")
	require.NoError(t, err)
	assert.Equal(t, 11, w.Buffered())

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 0, w.Buffered())

	out := stream.written(t)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.Write, out[0].Flag())
	assert.Equal(t, "hello world", out[0].TextOrEmpty())
}

func TestRemoteWriterEmptyFlush(t *testing.T) {
	stream := newBufferStream(t)
	w := NewRemoteWriter(New(stream, testSide(t, "zily", "cli"), Options{}))

	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 0, stream.out.Len())
}

func TestRemoteWriterPropagatesFail(t *testing.T) {
	stream := newBufferStream(t, textHeader(t, protocol.Fail, "no console"))
	w := NewRemoteWriter(New(stream, testSide(t, "zily", "cli"), Options{}))

	_, _ = w.WriteString("text")
	err := w.Flush(context.Background())
	assert.EqualError(t, err, "no console")
	assert.Equal(t, 0, w.Buffered())
}

func TestSplitRunes(t *testing.T) {
	assert.Nil(t, splitRunes("", 4))
	assert.Equal(t, []string{"abc"}, splitRunes("abc", 4))
	assert.Equal(t, []string{"ab", "cd", "e"}, splitRunes("abcde", 2))
	assert.Equal(t, []string{"éü", "✓"}, splitRunes("éü✓", 2))

	long := strings.Repeat("a", maxChunkRunes+1)
	chunks := splitRunes(long, maxChunkRunes)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[1], 1)
}
