package server

import (
	"strconv"

	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unreadOnly", "false"))
	result, err := h.notifications.ListForRecipient(c.Request.Context(), c.GetString(userIDContextKey), notifications.ListFilter{
		UnreadOnly: unreadOnly,
		Page:       queryInt(c, "page"),
		Limit:      queryInt(c, "limit"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, result)
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	notification, err := h.notifications.MarkRead(c.Request.Context(), c.GetString(userIDContextKey), c.Param("notificationID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, notification)
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": updated})
}
