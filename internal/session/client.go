package session

import (
	"context"
	"fmt"

	"github.com/zily-project/zily/internal/protocol"
)

// Client is the connecting side of a session.
type Client struct {
	*Session
}

// NewClient creates a client session on stream.
func NewClient(stream Stream, local protocol.Side, opts Options) *Client {
	return &Client{Session: New(stream, local, opts)}
}

// Connect runs the client handshake: adopt the server's AES key and IV,
// exchange identities, then announce Connected. A peer with another
// protocol or major version is rejected; the session is closed and the
// returned error wraps protocol.ErrHandshakeRejected.
func (c *Client) Connect(ctx context.Context) error {
	s := c.Session
	s.setStatus(ctx, StatusConnecting)

	if err := c.handshake(ctx); err != nil {
		s.setStatus(ctx, StatusOffline)
		return err
	}

	s.setStatus(ctx, StatusOnline)
	peer, _ := s.Peer()
	s.logger.Info().
		Str("peer", peer.String()).
		Str("encryption", s.Encryptor().Name()).
		Msg("connected")
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	s := c.Session

	if !s.plaintext {
		cipher, err := s.negotiatedCipher()
		if err != nil {
			return err
		}

		reply, err := s.request(ctx, protocol.AesKey, "")
		if err != nil {
			return fmt.Errorf("key exchange failed: %w", err)
		}
		if err := cipher.SetKey(reply.Payload()); err != nil {
			return fmt.Errorf("key exchange failed: %w", err)
		}

		reply, err = s.request(ctx, protocol.AesIV, "")
		if err != nil {
			return fmt.Errorf("iv exchange failed: %w", err)
		}
		if err := cipher.SetIV(reply.Payload()); err != nil {
			return fmt.Errorf("iv exchange failed: %w", err)
		}

		s.setEncryptor(cipher)
	}

	reply, err := s.request(ctx, protocol.SideIdentifier, s.local.String())
	if err != nil {
		return fmt.Errorf("identity exchange failed: %w", err)
	}

	peer, err := protocol.ParseSide(reply.TextOrEmpty())
	if err != nil {
		return c.reject(ctx, err)
	}
	s.setPeer(peer)

	if err := s.local.Compatible(peer); err != nil {
		return c.reject(ctx, err)
	}

	return s.writeHeader(ctx, protocol.Connected, "")
}

func (c *Client) reject(ctx context.Context, cause error) error {
	s := c.Session

	s.logger.Error().Err(cause).Msg("peer identity rejected, aborting handshake")
	s.emit(ctx, Event{Kind: EventRejected, Error: cause.Error()})
	if err := s.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to close rejected session")
	}
	return fmt.Errorf("%w: %w", protocol.ErrHandshakeRejected, cause)
}
