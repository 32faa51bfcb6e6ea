package handler

import (
	"Saathi/internal/model"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsProvider reports live connection statistics.
type StatsProvider interface {
	GetStats() model.MonitorResponse
}

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
	Health(c *gin.Context)
}

type monitorHandler struct {
	stats StatsProvider
}

func NewMonitorHandler(stats StatsProvider) MonitorHandler {
	return &monitorHandler{
		stats: stats,
	}
}

// GetHubStats returns connected users and their live connections
// @Summary Get WebSocket hub statistics
// @Tags Monitor
// @Produce json
// @Success 200 {object} model.MonitorResponse
// @Router /api/monitor/stats [get]
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	stats := h.stats.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   stats,
		"IsSuccess":      true,
		"Message":        "Hub statistics retrieved successfully",
	})
}

func (h *monitorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "Server is running",
	})
}
