package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/events"
)

const redacted = "********"

// handleGetConfig returns the current configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.Security.APIToken != "" {
		appData.Security.APIToken = redacted
	}
	c.JSON(http.StatusOK, gin.H{
		"side":             s.cfg.GetSide(),
		"transport":        s.cfg.GetTransport(),
		"application_data": appData,
	})
}

// handleSetAppData replaces the application data section. A masked or
// empty api_token keeps the current token.
func (s *Server) handleSetAppData(c *gin.Context) {
	var appData config.ApplicationData
	if err := c.ShouldBindJSON(&appData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	current := s.cfg.GetApplicationData()
	if appData.Security.APIToken == "" || appData.Security.APIToken == redacted {
		appData.Security.APIToken = current.Security.APIToken
	}

	candidate := &config.Config{
		Side:            s.cfg.GetSide(),
		Transport:       s.cfg.GetTransport(),
		ApplicationData: appData,
	}
	result := config.Validate(candidate)
	if !result.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid configuration",
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	s.cfg.SetApplicationData(appData)
	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.configChanged(c, "application_data")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"warnings": result.Warnings,
	})
}

// handleSetAppField replaces one section of the application data, for
// example POST /api/config/app_data/journal.
func (s *Server) handleSetAppField(c *gin.Context) {
	field := c.Param("field")

	var value interface{}
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetApplicationData()
	if err := s.cfg.UpdateAppField(field, value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetApplicationData(previous)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid configuration",
			"errors": result.Errors,
		})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.configChanged(c, "application_data."+field)
	c.JSON(http.StatusOK, gin.H{"status": "updated", "field": field})
}

func (s *Server) configChanged(c *gin.Context, section string) {
	if s.eventBus != nil {
		s.eventBus.Emit(c.Request.Context(), events.Event{
			Type:    events.EventConfigChanged,
			Source:  "api",
			Payload: section,
		})
	}

	client, _ := c.Get("api_client")
	log.Info().Interface("client", client).Str("section", section).Msg("API: configuration updated")
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest
// zily_*.log file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "zily_*.log"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []logEntry{}, nil
	}
	// Date-stamped names sort chronologically.
	sort.Strings(matches)

	data, err := os.ReadFile(matches[len(matches)-1])
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	start := len(lines) - count
	if start < 0 {
		start = 0
	}

	// Known zerolog internal fields to exclude from "fields"
	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	return result, nil
}

// stringFromMap extracts a string value from a map, returning "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
