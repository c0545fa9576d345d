package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/bspark23/chatsphere-pro/internal/configuration"
	"github.com/bspark23/chatsphere-pro/internal/handler"
)

func MessageRouters(router *gin.Engine, container *configuration.Container) {
	messageRoute := router.Group("/api/messages", handler.Authenticated(container.Gate))
	{
		messageRoute.GET("/direct/:userId", container.MessageHandler.GetDirectMessages)
		messageRoute.GET("/group/:groupId", container.MessageHandler.GetGroupMessages)
	}
}
