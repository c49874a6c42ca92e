package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zily-project/zily/internal/protocol"
)

// dispatchRequest answers a request. Flags without a built-in handler, and
// flags outside the taxonomy, go to the unhandled-flag handler.
func (s *Session) dispatchRequest(ctx context.Context, h *protocol.Header) error {
	switch h.Flag() {
	case protocol.Write:
		return s.handleWrite(ctx, h)
	case protocol.VersionQuery:
		return s.Reply(protocol.VersionInfo, protocol.APIVersion.String())
	default:
		return s.handler.HandleFlag(ctx, s, h)
	}
}

func (s *Session) handleWrite(ctx context.Context, h *protocol.Header) error {
	text, ok := h.Text()
	if !ok && h.Length() > 0 {
		if err := s.Reply(protocol.Fail, "The Write payload could not be decoded."); err != nil {
			s.logger.Debug().Err(err).Msg("failed to reject undecodable Write")
		}
		return &protocol.FramingError{
			Flag: protocol.Write,
			Err:  errors.New("payload is not valid text under the current encryption"),
		}
	}

	if err := s.console.Write(text); err != nil {
		if rerr := s.Reply(protocol.Fail, err.Error()); rerr != nil {
			s.logger.Debug().Err(rerr).Msg("failed to report console error")
		}
		return fmt.Errorf("console write failed: %w", err)
	}

	s.emit(ctx, Event{Kind: EventConsole, Flag: protocol.Write, Text: text})
	return s.Reply(protocol.Ok, "")
}

// dispatchResponse interprets the reply to a request. Fail is the only
// response that turns into an error.
func (s *Session) dispatchResponse(ctx context.Context, h *protocol.Header) error {
	flag := h.Flag()

	switch flag {
	case protocol.Ok:
		return nil

	case protocol.Warn:
		text := h.TextOrEmpty()
		s.logger.Warn().Str("message", text).Msg("peer reported a warning")
		s.emit(ctx, Event{Kind: EventWarning, Flag: flag, Text: text})
		return nil

	case protocol.VersionInfo:
		v, err := protocol.ParseVersion(h.TextOrEmpty())
		if err != nil {
			return &protocol.FramingError{Flag: flag, Err: err}
		}
		s.mu.Lock()
		s.peerVersion = v
		s.mu.Unlock()
		return nil

	case protocol.SideIdentifier:
		// Identities are only exchanged by the handshake, which checks
		// compatibility. A late one must not replace the peer.
		s.logger.Warn().Str("identity", h.TextOrEmpty()).Msg("ignoring identity outside the handshake")
		return nil

	case protocol.Fail:
		return &protocol.RemoteError{Message: h.TextOrEmpty()}
	}

	if !flag.IsResponse() {
		reason := fmt.Sprintf("The flag %q is not a response.", flag.String())
		if err := s.Reply(protocol.Fail, reason); err != nil {
			s.logger.Debug().Err(err).Msg("failed to report protocol violation")
		}
		return &protocol.ProtocolError{Flag: flag, Reason: reason}
	}

	s.logger.Debug().Str("flag", flag.String()).Msg("response has no built-in meaning")
	return nil
}
