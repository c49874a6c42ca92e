package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleJournalSessions returns recently journaled sessions.
func (s *Server) handleJournalSessions(c *gin.Context) {
	if !s.journalEnabled(c) {
		return
	}

	records, err := s.journal.RecentSessions(c.Request.Context(), queryLimit(c, 50, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": records,
		"count":    len(records),
	})
}

// handleJournalMessages returns the journaled traffic of one session.
func (s *Server) handleJournalMessages(c *gin.Context) {
	if !s.journalEnabled(c) {
		return
	}

	id := c.Param("id")
	records, err := s.journal.Messages(c.Request.Context(), id, queryLimit(c, 500, 5000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  id,
		"messages": records,
		"count":    len(records),
	})
}

func (s *Server) journalEnabled(c *gin.Context) bool {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
		return false
	}
	return true
}

// queryLimit reads ?limit=, falling back to def and capping at max.
func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
