package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/fragline/internal/db"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/util"
)

func (s *Server) handleGetStatus(c *gin.Context) {
	st, err := s.game.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleGetSessions(c *gin.Context) {
	infos, err := s.game.Sessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	info, err := s.game.SessionInfo(c.Request.Context(), slot)
	if err != nil {
		respondSessionError(c, slot, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGetConfigStrings returns the non-empty configstrings, or one
// index when the index query is given.
func (s *Server) handleGetConfigStrings(c *gin.Context) {
	cs := s.game.ConfigStrings()
	if raw := c.Query("index"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil || i < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"index": i, "value": cs.Get(i)})
		return
	}
	entries := cs.Entries()
	c.JSON(http.StatusOK, gin.H{
		"configstrings": entries,
		"total":         len(entries),
	})
}

func (s *Server) handleGetAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	q := db.AuditQuery{
		Type:    c.Query("type"),
		Address: c.Query("address"),
		Name:    c.Query("name"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = since
	}

	entries, err := s.audit.Recent(limit, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleGetAlerts(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	alerts, err := s.audit.GetUnacknowledgedAlerts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleGetHostUsage(c *gin.Context) {
	c.JSON(http.StatusOK, util.GetHostUsage(s.cfg.GetServerData().AssetDirectory))
}

// handleGetHealth returns the latest health check results. The response
// is 503 when any check is failing.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks disabled"})
		return
	}
	results := s.health.Results()
	healthy := true
	for _, r := range results {
		if !r.Healthy {
			healthy = false
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  results,
	})
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

	entries, err := readRecentLogEntries(s.cfg.GetApplicationData().Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseSlot(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		return 0, false
	}
	return slot, true
}

func respondSessionError(c *gin.Context, slot int, err error) {
	if errors.Is(err, session.ErrNoSession) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "slot": slot})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

// logEntry is a parsed log entry for the API response.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest log
// file.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range dirEntries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), util.AppName+"_") && filepath.Ext(e.Name()) == ".log" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return []logEntry{}, nil
	}
	sort.Strings(names)

	data, err := os.ReadFile(filepath.Join(logDir, names[len(names)-1]))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	start := len(lines) - count - 1 // the file ends with a newline
	if start < 0 {
		start = 0
	}

	// zerolog fields that get their own column
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

	if len(result) > count {
		result = result[len(result)-count:]
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
