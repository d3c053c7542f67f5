package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageUnauthenticated = "authentication required"
	messageForbidden       = "insufficient permissions"
	messageInternal        = "internal error"
)

type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, successBody{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, successBody{Success: true, Data: data})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: message})
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: messageUnauthenticated})
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: messageForbidden})
}

// respondError maps a service error to its status and body. Errors outside
// the taxonomy become 500 with a generic message.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var classified *apperrors.Error
	if !errors.As(err, &classified) {
		h.logger.Error("unclassified request failure",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: messageInternal})
		return
	}
	status := statusForKind(classified.Kind())
	if status == http.StatusInternalServerError {
		c.JSON(status, errorBody{Error: messageInternal, Code: classified.Code()})
		return
	}
	c.JSON(status, errorBody{
		Error:   classified.Message(),
		Code:    classified.Code(),
		Details: classified.Details(),
	})
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation, apperrors.KindConflict:
		return http.StatusBadRequest
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
