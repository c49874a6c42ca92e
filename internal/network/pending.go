package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNoPeer is returned for I/O on a PendingConn before a peer attached.
var ErrNoPeer = errors.New("no peer connected yet")

// PendingConn is a server-side stream bound before its single peer exists.
// WaitForPeer accepts exactly one connection; the listener is closed once
// the peer is attached.
type PendingConn struct {
	listener net.Listener

	mu   sync.RWMutex
	conn *Connection
}

// NewPendingConn waits for a single peer on l.
func NewPendingConn(l net.Listener) *PendingConn {
	return &PendingConn{listener: l}
}

// Addr returns the address peers should dial.
func (p *PendingConn) Addr() net.Addr {
	return p.listener.Addr()
}

// WaitForPeer blocks until a peer connects or ctx is done.
func (p *PendingConn) WaitForPeer(ctx context.Context) error {
	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := p.listener.Accept()
		accepted <- result{conn, err}
	}()

	var res result
	select {
	case res = <-accepted:
	case <-ctx.Done():
		_ = p.listener.Close()
		if res := <-accepted; res.conn != nil {
			_ = res.conn.Close()
		}
		return ctx.Err()
	}
	if res.err != nil {
		return fmt.Errorf("failed to accept peer: %w", res.err)
	}

	_ = p.listener.Close()

	p.mu.Lock()
	p.conn = NewConnection(res.conn)
	p.mu.Unlock()
	return nil
}

func (p *PendingConn) current() (*Connection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.conn == nil {
		return nil, ErrNoPeer
	}
	return p.conn, nil
}

func (p *PendingConn) Read(b []byte) (int, error) {
	c, err := p.current()
	if err != nil {
		return 0, err
	}
	return c.Read(b)
}

func (p *PendingConn) Write(b []byte) (int, error) {
	c, err := p.current()
	if err != nil {
		return 0, err
	}
	return c.Write(b)
}

func (p *PendingConn) Flush() error {
	c, err := p.current()
	if err != nil {
		return err
	}
	return c.Flush()
}

// Close closes the peer connection, or the listener if no peer came.
func (p *PendingConn) Close() error {
	if c, err := p.current(); err == nil {
		return c.Close()
	}
	return p.listener.Close()
}
