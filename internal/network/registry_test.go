package network

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/session"
)

type nopStream struct {
	bytes.Buffer
	closed bool
}

func (s *nopStream) Flush() error { return nil }
func (s *nopStream) Close() error { s.closed = true; return nil }

func TestRegistryLifecycle(t *testing.T) {
	r := NewSessionRegistry()
	stream := &nopStream{}
	s := session.New(stream, side(t, "a"), session.Options{})

	r.Register(s)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Unregister(s.ID())
	assert.Equal(t, 0, r.Count())
	assert.True(t, stream.closed)

	_, ok = r.Get(s.ID())
	assert.False(t, ok)

	// Unknown ids are ignored.
	r.Unregister("missing")
}

func TestRegistryOrdering(t *testing.T) {
	r := NewSessionRegistry()
	first := session.New(&nopStream{}, side(t, "first"), session.Options{})
	time.Sleep(2 * time.Millisecond)
	second := session.New(&nopStream{}, side(t, "second"), session.Options{})

	r.Register(second)
	r.Register(first)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID(), all[0].ID())
	assert.Equal(t, second.ID(), all[1].ID())
}

func TestRegistryCleanStale(t *testing.T) {
	r := NewSessionRegistry()
	stream := &nopStream{}
	r.Register(session.New(stream, side(t, "idle"), session.Options{}))

	assert.Equal(t, 0, r.CleanStale(time.Hour))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, r.CleanStale(5*time.Millisecond))
	assert.Equal(t, 0, r.Count())
	assert.True(t, stream.closed)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewSessionRegistry()
	a, b := &nopStream{}, &nopStream{}
	r.Register(session.New(a, side(t, "a"), session.Options{}))
	r.Register(session.New(b, side(t, "b"), session.Options{}))

	r.CloseAll()
	assert.Equal(t, 0, r.Count())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
