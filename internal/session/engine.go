package session

import (
	"context"
	"fmt"
	"io"

	"github.com/zily-project/zily/internal/encryption"
	"github.com/zily-project/zily/internal/protocol"
)

// Send writes a request and waits for exactly one reply, which is dispatched
// as a response. A Fail reply is returned as *protocol.RemoteError.
//
// Only one request may be outstanding per session; a concurrent call gets
// ErrRequestPending. While Listen runs, the reply is handed over by the
// listen loop. Otherwise Send reads the reply itself, and that read cannot
// be interrupted by ctx.
func (s *Session) Send(ctx context.Context, flag protocol.Flag, text string) error {
	_, err := s.request(ctx, flag, text)
	return err
}

// Write asks the peer to display text on its console.
func (s *Session) Write(ctx context.Context, text string) error {
	return s.Send(ctx, protocol.Write, text)
}

// QueryVersion asks the peer for its protocol version.
func (s *Session) QueryVersion(ctx context.Context) (protocol.Version, error) {
	if err := s.Send(ctx, protocol.VersionQuery, ""); err != nil {
		return protocol.Version{}, err
	}
	return s.PeerVersion(), nil
}

// Reply writes a text message without waiting for an answer.
func (s *Session) Reply(flag protocol.Flag, text string) error {
	return s.writeHeader(context.Background(), flag, text)
}

func (s *Session) request(ctx context.Context, flag protocol.Flag, text string) (*protocol.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := protocol.NewHeader(s.Encryptor(), flag, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrRequestPending
	}
	s.pending = true
	s.lastRequest = flag
	s.recentReq = flag
	routed := s.listening
	var (
		replyCh chan *protocol.Header
		done    chan struct{}
	)
	if routed {
		replyCh = make(chan *protocol.Header, 1)
		s.replyCh = replyCh
		done = s.listenDone
	} else {
		s.directRead = true
	}
	s.mu.Unlock()
	defer s.clearPending()

	if err := s.write(ctx, h); err != nil {
		return nil, err
	}

	var reply *protocol.Header
	if routed {
		select {
		case reply = <-replyCh:
		case <-done:
			select {
			case reply = <-replyCh:
			default:
				return nil, ErrListenerStopped
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		if flag.RepliesRaw() {
			reply, err = s.readRawHeader(ctx)
		} else {
			reply, err = s.readHeader(ctx)
		}
		if err != nil {
			if s.Status() == StatusOnline {
				s.setStatus(ctx, StatusOffline)
			}
			return nil, fmt.Errorf("failed to read reply to %s: %w", flag, err)
		}
	}

	if reply.Flag() == protocol.Disconnected {
		s.logger.Info().Str("request", flag.String()).Msg("peer disconnected while a request was pending")
		s.setStatus(ctx, StatusOffline)
		return nil, ErrPeerDisconnected
	}

	return reply, s.dispatchResponse(ctx, reply)
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = false
	s.lastRequest = protocol.Unknown
	s.directRead = false
	s.replyCh = nil
	s.mu.Unlock()
}

// deliver hands a response to the pending request, if one is waiting.
func (s *Session) deliver(h *protocol.Header) bool {
	s.mu.Lock()
	ch := s.replyCh
	s.replyCh = nil
	s.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- h
	return true
}

// Listen reads and dispatches messages while the session is Online. A
// transport failure or a Disconnected message ends the loop with a nil
// error and leaves the session Offline. ctx is checked between messages;
// closing the session is the way to unblock a pending read.
func (s *Session) Listen(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.listening:
		s.mu.Unlock()
		return ErrAlreadyListening
	case s.directRead:
		s.mu.Unlock()
		return ErrRequestPending
	}
	s.listening = true
	done := make(chan struct{})
	s.listenDone = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.listening = false
		s.listenDone = nil
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Debug().Msg("listen loop started")

	for s.Status() == StatusOnline {
		if err := ctx.Err(); err != nil {
			return err
		}

		h, err := s.readHeader(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("stream ended, leaving listen loop")
			s.setStatus(ctx, StatusOffline)
			return nil
		}

		if stop := s.handle(ctx, h); stop {
			return nil
		}
	}
	return nil
}

// handle dispatches one message read by the listen loop. It reports whether
// the loop must stop.
func (s *Session) handle(ctx context.Context, h *protocol.Header) bool {
	flag := h.Flag()

	switch {
	case flag == protocol.Disconnected:
		s.logger.Info().Msg("peer disconnected")
		s.setStatus(ctx, StatusOffline)
		return true

	case flag == protocol.Connected:
		s.logger.Debug().Msg("ignoring Connected on an established session")

	case flag.IsResponse():
		if s.deliver(h) {
			return false
		}
		if err := s.dispatchResponse(ctx, h); err != nil {
			s.logger.Warn().Err(err).Str("flag", flag.String()).Msg("unsolicited response failed")
		}

	default:
		if err := s.dispatchRequest(ctx, h); err != nil {
			s.logger.Warn().Err(err).Str("flag", flag.String()).Msg("request handling failed")
		}
	}
	return false
}

// Close ends the session. An Online session says Disconnected first; a
// failure to do so is ignored. The stream is closed if it supports it.
// Calling Close more than once is safe.
func (s *Session) Close() error {
	ctx := context.Background()

	if s.Status() == StatusOnline {
		if err := s.writeHeader(ctx, protocol.Disconnected, ""); err != nil {
			s.logger.Debug().Err(err).Msg("failed to announce disconnect")
		}
	}
	s.setStatus(ctx, StatusOffline)

	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.stream.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (s *Session) writeHeader(ctx context.Context, flag protocol.Flag, text string) error {
	h, err := protocol.NewHeader(s.Encryptor(), flag, text)
	if err != nil {
		return err
	}
	return s.write(ctx, h)
}

func (s *Session) writeRaw(ctx context.Context, flag protocol.Flag, payload []byte) error {
	h, err := protocol.NewRawHeader(flag, payload)
	if err != nil {
		return err
	}
	return s.write(ctx, h)
}

func (s *Session) write(ctx context.Context, h *protocol.Header) error {
	data, err := h.Bytes()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.stream.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", h.Flag(), err)
	}
	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", h.Flag(), err)
	}
	s.touch()

	s.logger.Trace().
		Str("flag", h.Flag().String()).
		Int("length", h.Length()).
		Msg("sent")
	s.observe(ctx, DirectionOut, h)
	return nil
}

func (s *Session) readHeader(ctx context.Context) (*protocol.Header, error) {
	h, err := protocol.Decode(s.stream, s.Encryptor())
	if err != nil {
		return nil, err
	}
	s.received(ctx, h)
	return h, nil
}

// readRawHeader reads a reply carrying a key or IV blob.
func (s *Session) readRawHeader(ctx context.Context) (*protocol.Header, error) {
	h, err := protocol.DecodeRaw(s.stream)
	if err != nil {
		return nil, err
	}
	s.received(ctx, h)
	return h, nil
}

func (s *Session) received(ctx context.Context, h *protocol.Header) {
	s.touch()

	s.logger.Trace().
		Str("flag", h.Flag().String()).
		Int("length", h.Length()).
		Msg("received")
	s.observe(ctx, DirectionIn, h)
}

// observe reports traffic of established sessions; handshake blobs are
// never reported.
func (s *Session) observe(ctx context.Context, direction string, h *protocol.Header) {
	if s.Status() != StatusOnline {
		return
	}
	s.emit(ctx, Event{
		Kind:      EventMessage,
		Flag:      h.Flag(),
		Direction: direction,
		Text:      h.TextOrEmpty(),
	})
}

// negotiatedCipher returns the cipher used once the handshake switches
// away from plain UTF-16, creating it on first use.
func (s *Session) negotiatedCipher() (*encryption.AES, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cipher == nil {
		c, err := encryption.NewAES()
		if err != nil {
			return nil, err
		}
		s.cipher = c
	}
	return s.cipher, nil
}
