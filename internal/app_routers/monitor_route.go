package approuters

import (
	"Saathi/internal/configuration"

	"github.com/gin-gonic/gin"
)

// MonitorRouters sets up health and monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	router.GET("/api/health", container.MonitorHandler.Health)

	monitorGroup := router.Group("/api/monitor")
	{
		// GET /api/monitor/stats - live connection statistics
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}
}
