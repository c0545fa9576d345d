package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/bspark23/chatsphere-pro/internal/configuration"
)

func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorRoute := router.Group("/monitor/api")
	{
		monitorRoute.GET("/health", container.MonitorHandler.Health)
		monitorRoute.GET("/stats", container.MonitorHandler.GetStats)
	}
}
