package session

import (
	"context"
	"fmt"

	"github.com/zily-project/zily/internal/protocol"
)

// Waiter blocks until a peer is attached to the stream.
type Waiter interface {
	WaitForPeer(ctx context.Context) error
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func(ctx context.Context) error

func (f WaiterFunc) WaitForPeer(ctx context.Context) error {
	return f(ctx)
}

// Server is the accepting side of a session. The server dictates the AES key
// and IV; this is not an authenticated key agreement.
type Server struct {
	*Session
	waiter Waiter
}

// NewServer creates a server session on stream. waiter may be nil when the
// stream is already connected.
func NewServer(stream Stream, local protocol.Side, waiter Waiter, opts Options) *Server {
	return &Server{Session: New(stream, local, opts), waiter: waiter}
}

// Accept waits for a peer and answers its handshake until it announces
// Connected. There is no time limit; a stalled peer blocks Accept until ctx
// is cancelled between messages or the stream is closed.
func (sv *Server) Accept(ctx context.Context) error {
	s := sv.Session

	if sv.waiter != nil {
		if err := sv.waiter.WaitForPeer(ctx); err != nil {
			return fmt.Errorf("failed waiting for peer: %w", err)
		}
	}

	s.setStatus(ctx, StatusConnecting)

	for {
		if err := ctx.Err(); err != nil {
			s.setStatus(ctx, StatusOffline)
			return err
		}

		h, err := s.readHeader(ctx)
		if err != nil {
			s.setStatus(ctx, StatusOffline)
			return fmt.Errorf("handshake aborted: %w", err)
		}

		switch flag := h.Flag(); flag {
		case protocol.AesKey, protocol.AesIV:
			if err := sv.replyCipherBlob(ctx, flag); err != nil {
				s.setStatus(ctx, StatusOffline)
				return err
			}

		case protocol.SideIdentifier:
			sv.recordPeer(h)
			if err := s.Reply(protocol.Ok, s.local.String()); err != nil {
				s.setStatus(ctx, StatusOffline)
				return err
			}

		case protocol.Connected:
			s.setStatus(ctx, StatusOnline)
			peer, _ := s.Peer()
			s.logger.Info().
				Str("peer", peer.String()).
				Str("encryption", s.Encryptor().Name()).
				Msg("peer connected")
			return nil

		case protocol.Disconnected:
			s.setStatus(ctx, StatusOffline)
			return ErrPeerDisconnected

		default:
			if flag.IsResponse() {
				err = s.dispatchResponse(ctx, h)
			} else {
				err = s.dispatchRequest(ctx, h)
			}
			if err != nil {
				s.logger.Warn().Err(err).Str("flag", flag.String()).Msg("message before Connected failed")
			}
		}
	}
}

func (sv *Server) replyCipherBlob(ctx context.Context, flag protocol.Flag) error {
	s := sv.Session

	if s.plaintext {
		return s.Reply(protocol.Fail, "Encryption is disabled on this side.")
	}

	cipher, err := s.negotiatedCipher()
	if err != nil {
		return err
	}

	blob := cipher.Key()
	if flag == protocol.AesIV {
		blob = cipher.IV()
	}
	if err := s.writeRaw(ctx, protocol.Ok, blob); err != nil {
		return err
	}

	// Everything after the IV travels encrypted.
	if flag == protocol.AesIV {
		s.setEncryptor(cipher)
	}
	return nil
}

// recordPeer stores the identity a client announces with SideIdentifier.
// Older clients send it empty.
func (sv *Server) recordPeer(h *protocol.Header) {
	s := sv.Session

	text := h.TextOrEmpty()
	if text == "" {
		return
	}

	peer, err := protocol.ParseSide(text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("client sent an unreadable identity")
		return
	}
	s.setPeer(peer)

	if err := s.local.Compatible(peer); err != nil {
		s.logger.Warn().Err(err).Str("peer", peer.String()).Msg("client identity is not compatible")
	}
}
