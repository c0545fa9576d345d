package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bspark23/chatsphere-pro/internal/hub"
)

type MonitorHandler interface {
	GetStats(c *gin.Context)
	Health(c *gin.Context)
}

type monitorHandler struct {
	monitor *hub.MonitorService
}

func NewMonitorHandler(monitor *hub.MonitorService) MonitorHandler {
	return &monitorHandler{
		monitor: monitor,
	}
}

func (h *monitorHandler) GetStats(c *gin.Context) {
	stats := h.monitor.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"IsSuccess":      true,
		"Message":        "Hub statistics retrieved successfully",
		"ResponseBody":   stats,
	})
}

func (h *monitorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
