// Package network carries zily sessions over stream transports: TCP, Unix
// domain sockets and named pipes. It also keeps the registry of live
// sessions the daemon serves.
package network

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed is returned for I/O on a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// WriteTimeout bounds a single flush to the peer.
const WriteTimeout = 10 * time.Second

// Connection adapts a net.Conn to session.Stream. Reads are buffered and
// writes are held until Flush so each message leaves in one segment.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	logger zerolog.Logger

	readTimeout time.Duration

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConnection wraps an established net.Conn.
func NewConnection(conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", remoteString(conn)).Logger(),
	}
}

// SetReadTimeout bounds every following read. Zero disables the bound.
func (c *Connection) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// Read reads buffered bytes from the peer. Reads are only issued by the
// owning session, so they do not take the write lock.
func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	timeout := c.readTimeout
	c.mu.Unlock()

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, err := c.r.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
	}
	return n, err
}

// Write buffers p until the next Flush.
func (c *Connection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrConnectionClosed
	}
	return c.w.Write(p)
}

// Flush sends the buffered bytes.
func (c *Connection) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.w.Flush(); err != nil {
		return err
	}
	c.lastActivity = time.Now()
	return nil
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read or flush.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "local"
}
