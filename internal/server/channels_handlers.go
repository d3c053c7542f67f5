package server

import (
	"strings"

	"github.com/MarcoPoloResearchLab/huddle/internal/channels"
	"github.com/gin-gonic/gin"
)

type createChannelPayload struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	IsPrivate    bool              `json:"isPrivate"`
	DepartmentID string            `json:"departmentId"`
	ProjectID    string            `json:"projectId"`
	Settings     channels.Settings `json:"settings"`
}

type addMembersPayload struct {
	MemberIDs []string `json:"memberIds"`
	Role      string   `json:"role"`
}

type updateRolePayload struct {
	Role string `json:"role"`
}

func (h *httpHandler) handleCreateChannel(c *gin.Context) {
	var payload createChannelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	userID := c.GetString(userIDContextKey)
	channel, err := h.channels.CreateChannel(c.Request.Context(), channels.CreateChannelRequest{
		Name:         payload.Name,
		Type:         channels.ChannelType(strings.TrimSpace(payload.Type)),
		OwnerID:      userID,
		IsPrivate:    payload.IsPrivate,
		DepartmentID: payload.DepartmentID,
		ProjectID:    payload.ProjectID,
		Settings:     payload.Settings,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	details, err := h.channels.GetChannelDetails(c.Request.Context(), channel.ID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondCreated(c, details)
}

func (h *httpHandler) handleGetChannel(c *gin.Context) {
	details, err := h.channels.GetChannelDetails(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, details)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	settings, err := h.channels.GetChannelSettings(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, settings)
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	var patch channels.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	settings, err := h.channels.UpdateSettings(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, settings)
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	members, err := h.channels.GetChannelMembers(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, gin.H{"members": members})
}

func (h *httpHandler) handleAddMembers(c *gin.Context) {
	var payload addMembersPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	members, err := h.channels.AddMembers(c.Request.Context(), channels.AddMembersRequest{
		ChannelID:   c.Param("channelID"),
		RequesterID: c.GetString(userIDContextKey),
		MemberIDs:   payload.MemberIDs,
		Role:        channels.Role(strings.TrimSpace(payload.Role)),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, gin.H{"members": members})
}

func (h *httpHandler) handleUpdateMemberRole(c *gin.Context) {
	var payload updateRolePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	member, err := h.channels.UpdateMemberRole(
		c.Request.Context(),
		c.Param("channelID"),
		c.GetString(userIDContextKey),
		c.Param("memberID"),
		channels.Role(strings.TrimSpace(payload.Role)),
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, member)
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	members, err := h.channels.RemoveMember(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey), c.Param("memberID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, gin.H{"members": members})
}

func (h *httpHandler) handleLeaveChannel(c *gin.Context) {
	result, err := h.channels.LeaveChannel(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, result)
}

func (h *httpHandler) handleArchive(c *gin.Context) {
	details, err := h.channels.Archive(c.Request.Context(), h.archiveRequest(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, details)
}

func (h *httpHandler) handleUnarchive(c *gin.Context) {
	details, err := h.channels.Unarchive(c.Request.Context(), h.archiveRequest(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, details)
}

func (h *httpHandler) archiveRequest(c *gin.Context) channels.ArchiveRequest {
	return channels.ArchiveRequest{
		ChannelID:   c.Param("channelID"),
		RequesterID: c.GetString(userIDContextKey),
		Elevated:    c.GetBool(elevatedContextKey),
	}
}

func (h *httpHandler) handleTogglePin(c *gin.Context) {
	result, err := h.channels.TogglePin(c.Request.Context(), c.Param("channelID"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, result)
}
