package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// handleRealtimeStream streams the caller's personal events and the events of
// every channel they belong to. Channels joined or left while connected are
// followed or dropped as the membership events arrive.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()

	channelIDs, err := h.channels.ChannelIDsForMember(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	streams := make([]string, 0, len(channelIDs)+1)
	streams = append(streams, broadcast.UserStream(userID))
	for _, channelID := range channelIDs {
		streams = append(streams, broadcast.ChannelStream(channelID))
	}
	subscription := h.realtime.Subscribe(ctx, streams...)
	defer subscription.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("realtime stream opened", zap.String("user_id", userID), zap.Int("channels", len(channelIDs)))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-subscription.Messages():
			if !ok {
				return false
			}
			trackMembership(subscription, userID, message)
			c.SSEvent(message.Event, message)
			return true
		case <-ticker.C:
			c.SSEvent(broadcast.EventHeartbeat, heartbeatPayload{Timestamp: h.clock().UTC()})
			return true
		}
	})

	h.logger.Debug("realtime stream closed", zap.String("user_id", userID))
}

// trackMembership keeps the subscription's channel streams in step with the
// membership events addressed to userID.
func trackMembership(subscription *broadcast.Subscription, userID string, message broadcast.Message) {
	switch message.Event {
	case broadcast.EventMemberAdded:
		if message.Stream != broadcast.UserStream(userID) {
			return
		}
		var added broadcast.MemberAdded
		if err := json.Unmarshal(message.Payload, &added); err == nil {
			subscription.Follow(broadcast.ChannelStream(added.ChannelID))
		}
	case broadcast.EventMemberRemoved:
		if message.Stream != broadcast.UserStream(userID) {
			return
		}
		var removed broadcast.MemberRemoved
		if err := json.Unmarshal(message.Payload, &removed); err == nil {
			subscription.Unfollow(broadcast.ChannelStream(removed.ChannelID))
		}
	case broadcast.EventMemberLeft:
		var left broadcast.MemberLeft
		if err := json.Unmarshal(message.Payload, &left); err == nil && left.MemberID == userID {
			subscription.Unfollow(broadcast.ChannelStream(left.ChannelID))
		}
	}
}
