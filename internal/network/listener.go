package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

// DefaultHandshakeTimeout bounds how long a peer may take to finish the
// handshake before its connection is dropped.
const DefaultHandshakeTimeout = 30 * time.Second

// ListenerConfig configures a SessionListener.
type ListenerConfig struct {
	Kind             string
	Address          string
	Local            protocol.Side
	HandshakeTimeout time.Duration
	// Options is applied to every accepted session. Its Cipher must be nil
	// so each session negotiates its own key.
	Options session.Options
}

// SessionListener accepts peers and serves one zily server session per
// connection until the peer leaves or the context ends.
type SessionListener struct {
	cfg      ListenerConfig
	registry *SessionRegistry
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewSessionListener creates a listener that registers its sessions in
// registry.
func NewSessionListener(cfg ListenerConfig, registry *SessionRegistry) *SessionListener {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	cfg.Options.Cipher = nil

	return &SessionListener{
		cfg:      cfg,
		registry: registry,
		logger:   log.With().Str("component", "session_listener").Str("kind", cfg.Kind).Logger(),
	}
}

// Start binds and serves until ctx is done.
func (l *SessionListener) Start(ctx context.Context) error {
	if err := l.Bind(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Bind opens the underlying listener.
func (l *SessionListener) Bind(ctx context.Context) error {
	ln, err := Listen(ctx, l.cfg.Kind, l.cfg.Address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info().Str("addr", ln.Addr().String()).Msg("session listener started")
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *SessionListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is done. On shutdown every session is
// closed and Serve waits for their handlers to return.
func (l *SessionListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("session listener is not bound")
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		l.registry.CloseAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("session listener stopping")
				l.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs the server handshake, registers the session and
// serves it until the peer leaves.
func (l *SessionListener) handleConnection(ctx context.Context, raw net.Conn) {
	conn := NewConnection(raw)
	defer conn.Close()

	opts := l.cfg.Options
	server := session.NewServer(conn, l.cfg.Local, nil, opts)

	logger := l.logger.With().
		Str("session", server.ID()).
		Str("remote", remoteString(raw)).
		Logger()

	// Shutdown must not wait for a peer stuck in the handshake.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	conn.SetReadTimeout(l.cfg.HandshakeTimeout)
	err := server.Accept(ctx)
	stop()
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		return
	}
	conn.SetReadTimeout(0)

	peer, _ := server.Peer()
	logger.Info().Str("peer", peer.String()).Msg("session online")

	l.registry.Register(server.Session)
	defer l.registry.Unregister(server.ID())
	if ctx.Err() != nil {
		return
	}

	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("listen loop failed")
	}
	logger.Info().Msg("session ended")
}

// Stop closes the listener without waiting for sessions.
func (l *SessionListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
