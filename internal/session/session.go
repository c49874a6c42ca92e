// Package session implements the zily protocol engine: the handshake state
// machine, the request/reply primitive, the listen loop and the dispatch of
// incoming flags. A Session owns its stream exclusively.
package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zily-project/zily/internal/encryption"
	"github.com/zily-project/zily/internal/protocol"
)

// Stream is the byte transport a session runs on. A read failure means the
// peer is gone.
type Stream interface {
	io.Reader
	io.Writer
	Flush() error
}

// Options configures a session. The zero value is usable.
type Options struct {
	// Logger receives engine logs. Nil disables logging.
	Logger *zerolog.Logger
	// Console receives the text of Write requests. Nil discards it.
	Console Console
	// Handler decides about request flags without a built-in handler.
	// Nil rejects them with Fail.
	Handler UnhandledFlagHandler
	// Notifier receives lifecycle and message events.
	Notifier Notifier
	// Plaintext skips the AES negotiation during the handshake.
	Plaintext bool
	// Cipher is the cipher negotiated during the handshake. Nil creates a
	// fresh one with a random key.
	Cipher *encryption.AES
}

// Session is one end of a zily connection.
type Session struct {
	id       string
	stream   Stream
	local    protocol.Side
	logger   zerolog.Logger
	console  Console
	handler  UnhandledFlagHandler
	notifier Notifier

	plaintext bool
	cipher    *encryption.AES

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu           sync.RWMutex
	status       Status
	enc          protocol.Encryptor
	peer         *protocol.Side
	peerVersion  protocol.Version
	lastRequest  protocol.Flag // outstanding request, Unknown when idle
	recentReq    protocol.Flag
	createdAt    time.Time
	lastActivity time.Time

	// Pending slot. At most one request waits for its reply. When a listen
	// loop owns the read side, the reply is handed over through replyCh.
	pending    bool
	directRead bool
	replyCh    chan *protocol.Header
	listening  bool
	listenDone chan struct{}
}

// New creates an Offline session on stream identified locally by local.
func New(stream Stream, local protocol.Side, opts Options) *Session {
	id := uuid.New().String()

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("session", id).Logger()
	}

	console := opts.Console
	if console == nil {
		console = discardConsole{}
	}
	handler := opts.Handler
	if handler == nil {
		handler = RejectUnhandled{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	now := time.Now()
	return &Session{
		id:           id,
		stream:       stream,
		local:        local,
		logger:       logger,
		console:      console,
		handler:      handler,
		notifier:     notifier,
		plaintext:    opts.Plaintext,
		cipher:       opts.Cipher,
		status:       StatusOffline,
		enc:          encryption.None{},
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Local returns the local identity.
func (s *Session) Local() protocol.Side {
	return s.local
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Peer returns the identity announced by the peer, if any.
func (s *Session) Peer() (protocol.Side, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.peer == nil {
		return protocol.Side{}, false
	}
	return *s.peer, true
}

// PeerVersion returns the last version the peer reported through VersionInfo.
func (s *Session) PeerVersion() protocol.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerVersion
}

// Encryptor returns the transform currently applied to payloads.
func (s *Session) Encryptor() protocol.Encryptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enc
}

// LastRequest returns the flag of the request awaiting its reply, or
// protocol.Unknown when none is outstanding.
func (s *Session) LastRequest() protocol.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRequest
}

// LastActivity returns the time of the last successful read or write.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Local        protocol.Side  `json:"local"`
	Peer         *protocol.Side `json:"peer,omitempty"`
	PeerVersion  string         `json:"peer_version,omitempty"`
	Encryption   string         `json:"encryption"`
	LastRequest  string         `json:"last_request,omitempty"`
	Pending      string         `json:"pending,omitempty"`
	Listening    bool           `json:"listening"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:           s.id,
		Status:       s.status,
		Local:        s.local,
		Encryption:   s.enc.Name(),
		Listening:    s.listening,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if s.peer != nil {
		peer := *s.peer
		info.Peer = &peer
	}
	if !s.peerVersion.IsZero() {
		info.PeerVersion = s.peerVersion.String()
	}
	if s.recentReq != protocol.Unknown {
		info.LastRequest = s.recentReq.String()
	}
	if s.lastRequest != protocol.Unknown {
		info.Pending = s.lastRequest.String()
	}
	return info
}

func (s *Session) setStatus(ctx context.Context, status Status) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	s.mu.Unlock()

	if prev == status {
		return
	}

	s.logger.Debug().
		Str("from", prev.String()).
		Str("to", status.String()).
		Msg("status changed")

	switch status {
	case StatusOnline:
		s.emit(ctx, Event{Kind: EventOnline})
	case StatusOffline:
		if prev == StatusOnline {
			s.emit(ctx, Event{Kind: EventOffline})
		}
	}
}

func (s *Session) setEncryptor(enc protocol.Encryptor) {
	s.mu.Lock()
	s.enc = enc
	s.mu.Unlock()
	s.logger.Debug().Str("encryption", enc.Name()).Msg("switched payload encryption")
}

func (s *Session) setPeer(peer protocol.Side) {
	s.mu.Lock()
	s.peer = &peer
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) emit(ctx context.Context, ev Event) {
	ev.SessionID = s.id
	ev.Local = s.local
	if peer, ok := s.Peer(); ok {
		ev.Peer = &peer
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.notifier.Notify(ctx, ev)
}
