package server

import (
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleRecordOperation(c *gin.Context) {
	var request operations.RecordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	request.ActorID = c.GetString(userIDContextKey)
	operation, err := h.operations.Record(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondCreated(c, operation)
}

func (h *httpHandler) handleQueryOperations(c *gin.Context) {
	result, err := h.operations.Query(c.Request.Context(), operations.QueryFilter{
		TaskID:    c.Query("taskId"),
		ProjectID: c.Query("projectId"),
		Type:      operations.Type(strings.TrimSpace(c.Query("type"))),
		Status:    operations.Status(strings.TrimSpace(c.Query("status"))),
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, result)
}

func (h *httpHandler) handleOperationStats(c *gin.Context) {
	stats, err := h.operations.GetRealtimeStats(c.Request.Context(), c.Query("projectId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, stats)
}

func (h *httpHandler) handleRetryOperations(c *gin.Context) {
	result, err := h.operations.RetryFailedBroadcasts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, result)
}

// queryInt parses a positive integer query parameter; anything else is 0 so
// the service applies its default.
func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil || value < 0 {
		return 0
	}
	return value
}
