// Package server exposes the messaging core over HTTP and server-sent events.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/auth"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/channels"
	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "huddle_user_id"
	elevatedContextKey = "huddle_elevated"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingChannelsService  = errors.New("channels service dependency required")
	errMissingOperations       = errors.New("operations service dependency required")
	errMissingNotifications    = errors.New("notifications service dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
)

// SessionValidator authenticates a request from its cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ProfileSynchronizer keeps directory profiles current with session claims.
type ProfileSynchronizer interface {
	SyncFromClaims(ctx context.Context, claims auth.SessionClaims) error
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Sessions          SessionValidator
	Profiles          ProfileSynchronizer
	Channels          *channels.Service
	Operations        *operations.Service
	Notifications     *notifications.Service
	Realtime          *broadcast.Dispatcher
	ElevatedRoles     []string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine with every route registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Channels == nil {
		return nil, errMissingChannelsService
	}
	if deps.Operations == nil {
		return nil, errMissingOperations
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		profiles:      deps.Profiles,
		channels:      deps.Channels,
		operations:    deps.Operations,
		notifications: deps.Notifications,
		realtime:      deps.Realtime,
		elevatedRoles: deps.ElevatedRoles,
		heartbeat:     heartbeat,
		clock:         clock,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	api := protected.Group("/api")
	api.POST("/channels", handler.handleCreateChannel)
	api.GET("/channels/:channelID", handler.handleGetChannel)
	api.GET("/channels/:channelID/settings", handler.handleGetSettings)
	api.PATCH("/channels/:channelID/settings", handler.handleUpdateSettings)
	api.GET("/channels/:channelID/members", handler.handleListMembers)
	api.POST("/channels/:channelID/members", handler.handleAddMembers)
	api.PATCH("/channels/:channelID/members/:memberID", handler.handleUpdateMemberRole)
	api.DELETE("/channels/:channelID/members/:memberID", handler.handleRemoveMember)
	api.POST("/channels/:channelID/leave", handler.handleLeaveChannel)
	api.POST("/channels/:channelID/archive", handler.handleArchive)
	api.DELETE("/channels/:channelID/archive", handler.handleUnarchive)
	api.POST("/channels/:channelID/pin", handler.handleTogglePin)

	api.POST("/task-operations", handler.handleRecordOperation)
	api.GET("/task-operations", handler.handleQueryOperations)
	api.GET("/task-operations/stats", handler.handleOperationStats)
	api.POST("/task-operations/retry", handler.requireElevated, handler.handleRetryOperations)

	api.GET("/notifications", handler.handleListNotifications)
	api.POST("/notifications/read-all", handler.handleMarkAllRead)
	api.POST("/notifications/:notificationID/read", handler.handleMarkRead)

	protected.GET("/realtime/stream", handler.handleRealtimeStream)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	profiles      ProfileSynchronizer
	channels      *channels.Service
	operations    *operations.Service
	notifications *notifications.Service
	realtime      *broadcast.Dispatcher
	elevatedRoles []string
	heartbeat     time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

// corsMiddleware admits credentialed cross-origin calls only from the listed
// origins. Same-origin requests are unaffected.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")] = struct{}{}
	}
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		abortUnauthenticated(c)
		return
	}
	if h.profiles != nil {
		if err := h.profiles.SyncFromClaims(c.Request.Context(), claims); err != nil {
			h.logger.Warn("profile sync failed", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(elevatedContextKey, claims.HasAnyRole(h.elevatedRoles...))
	c.Next()
}

func (h *httpHandler) requireElevated(c *gin.Context) {
	if !c.GetBool(elevatedContextKey) {
		abortForbidden(c)
		return
	}
	c.Next()
}
