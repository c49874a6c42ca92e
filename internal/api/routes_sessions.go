package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

// handleListSessions returns every live session.
func (s *Server) handleListSessions(c *gin.Context) {
	infos := s.registry.Infos()
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

// handleGetSession returns one live session.
func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Info())
}

// handleWriteSession sends a Write request to the peer of a session.
func (s *Server) handleWriteSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := sess.Write(ctx, body.Text); err != nil {
		s.requestFailed(c, sess, err)
		return
	}

	client, _ := c.Get("api_client")
	log.Info().
		Str("session", sess.ID()).
		Interface("client", client).
		Msg("API: text written to peer")

	c.JSON(http.StatusOK, gin.H{
		"status":  "written",
		"session": sess.ID(),
	})
}

// handleQueryVersion asks the peer of a session for its protocol version.
func (s *Server) handleQueryVersion(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	version, err := sess.QueryVersion(ctx)
	if err != nil {
		s.requestFailed(c, sess, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":    sess.ID(),
		"version":    version.String(),
		"compatible": version.Major == protocol.APIVersion.Major,
	})
}

// handleCloseSession sends Disconnected to the peer and drops the session.
func (s *Server) handleCloseSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	s.registry.Unregister(sess.ID())

	client, _ := c.Get("api_client")
	log.Info().
		Str("session", sess.ID()).
		Interface("client", client).
		Msg("API: session closed")

	c.JSON(http.StatusOK, gin.H{
		"status":  "closed",
		"session": sess.ID(),
	})
}

func (s *Server) lookupSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "session": id})
		return nil, false
	}
	return sess, true
}

// requestFailed maps a request error onto an HTTP status.
func (s *Server) requestFailed(c *gin.Context, sess *session.Session, err error) {
	status := statusFor(err)
	log.Warn().Err(err).Str("session", sess.ID()).Int("status", status).Msg("API: request to peer failed")

	body := gin.H{"error": err.Error(), "session": sess.ID()}
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		body["remote"] = remote.Message
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	var remote *protocol.RemoteError

	switch {
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrRequestPending):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotOnline):
		return http.StatusConflict
	case errors.Is(err, session.ErrPeerDisconnected):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
