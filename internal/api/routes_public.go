package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/fragline/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": s.version,
	})
}

// handleGetServerInfo returns what a server browser would show.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	st, err := s.game.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	sysInfo := util.GetSystemInfo()
	sd := s.cfg.GetServerData()

	c.JSON(http.StatusOK, gin.H{
		"hostname":    st.Hostname,
		"map":         st.MapName,
		"gamedir":     st.Gamedir,
		"port":        sd.Port,
		"clients":     st.Clients,
		"max_clients": st.MaxClients,
		"uptime":      st.Uptime,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"version":     s.version,
	})
}
