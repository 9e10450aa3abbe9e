package approuters

import (
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/configuration"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/handler"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/hub"

	"github.com/gin-gonic/gin"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorService := hub.NewMonitorService(container.Hub)
	monitorHandler := handler.NewMonitorHandler(monitorService)

	monitorGroup := router.Group("/messenger/api/monitor")
	{
		monitorGroup.GET("/stats", monitorHandler.GetHubStats)
	}
}
