package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/repo"
)

type MessageHandler interface {
	GetDirectMessages(c *gin.Context)
	GetGroupMessages(c *gin.Context)
}

type messageHandler struct {
	messages repo.MessageRepository
}

func NewMessageHandler(messages repo.MessageRepository) MessageHandler {
	return &messageHandler{
		messages: messages,
	}
}

func (h *messageHandler) GetDirectMessages(c *gin.Context) {
	identity := identityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	h.roomMessages(c, event.Direct(c.Param("userId")), identity.ID)
}

func (h *messageHandler) GetGroupMessages(c *gin.Context) {
	identity := identityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	h.roomMessages(c, event.Group(c.Param("groupId")), identity.ID)
}

func (h *messageHandler) roomMessages(c *gin.Context, room event.RoomID, viewerID string) {
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid page number",
		})
		return
	}

	msgs, err := h.messages.RoomMessages(c.Request.Context(), room, viewerID, pageNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get messages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
	})
}
