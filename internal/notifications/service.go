// Package notifications stores per-member system notifications and pushes
// each new one to the recipient's personal stream.
package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/ids"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "notifications.service.new"
	opCreate       = "notifications.create"
	opList         = "notifications.list"
	opMarkRead     = "notifications.mark_read"
	opMarkAllRead  = "notifications.mark_all_read"
	opPurgeExpired = "notifications.purge_expired"

	reasonStoreFailed  = "store_failed"
	reasonInvalidInput = "invalid_input"

	defaultPageSize = 20
	maxPageSize     = 100
	previewLength   = 140
)

// CreateRequest describes a notification to deliver.
type CreateRequest struct {
	Type         string `validate:"required,max=64"`
	Category     string `validate:"max=64"`
	RecipientID  string `validate:"required,max=190"`
	SenderID     string
	SenderName   string
	SenderAvatar string
	Title        string `validate:"required,max=200"`
	Message      string
	EntityType   string
	EntityID     string
	EntityName   string
	ActionType   string
	ActionURL    string `validate:"omitempty,url"`
	Priority     int    `validate:"omitempty,min=1,max=4"`
	ExpiresAt    *time.Time
}

// ListFilter narrows ListForRecipient.
type ListFilter struct {
	UnreadOnly bool
	Page       int
	Limit      int
}

// ListResult is one page of a recipient's notifications.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	Unread        int64          `json:"unread"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Notifier   broadcast.Notifier
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service persists notifications and manages their read state.
type Service struct {
	db         *gorm.DB
	notifier   broadcast.Notifier
	clock      func() time.Time
	idProvider ids.Provider
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", "database handle is required", nil)
	}
	if cfg.Notifier == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_notifier", "broadcast notifier is required", nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		notifier:   cfg.Notifier,
		clock:      clock,
		idProvider: idProvider,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
	}, nil
}

// Create stores a notification and pushes it to the recipient.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Notification, error) {
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return Notification{}, s.reject(opCreate, reasonInvalidInput, "invalid notification", err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, s.internal(opCreate, "id_generation_failed", err)
	}
	priority := req.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	now := s.clock().UTC()
	notification := Notification{
		ID:           id,
		Type:         req.Type,
		Category:     req.Category,
		RecipientID:  req.RecipientID,
		SenderID:     req.SenderID,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		Title:        req.Title,
		Message:      req.Message,
		Preview:      preview(req.Message),
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		EntityName:   req.EntityName,
		ActionType:   req.ActionType,
		ActionURL:    req.ActionURL,
		Priority:     priority,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, s.internal(opCreate, reasonStoreFailed, err, zap.String("recipient_id", req.RecipientID))
	}

	s.notifier.Publish(broadcast.ToUser(notification.RecipientID), broadcast.NotificationCreated{
		NotificationID: notification.ID,
		Type:           notification.Type,
		Title:          notification.Title,
		Message:        notification.Preview,
		Priority:       notification.Priority,
		EntityType:     notification.EntityType,
		EntityID:       notification.EntityID,
		CreatedAt:      notification.CreatedAt,
	})
	return notification, nil
}

// ListForRecipient returns a page of unexpired notifications, newest first,
// with the recipient's unread count.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, filter ListFilter) (ListResult, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return ListResult{}, s.reject(opList, reasonInvalidInput, "recipient is required", nil)
	}
	page, limit := paginate(filter.Page, filter.Limit)
	now := s.clock().UTC()

	visible := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&Notification{}).
			Where("recipient_id = ? AND (expires_at IS NULL OR expires_at > ?)", recipientID, now)
	}

	result := ListResult{Page: page, Limit: limit}
	if err := visible().Where("is_read = ?", false).Count(&result.Unread).Error; err != nil {
		return ListResult{}, s.internal(opList, reasonStoreFailed, err, zap.String("recipient_id", recipientID))
	}
	selected := func() *gorm.DB {
		if filter.UnreadOnly {
			return visible().Where("is_read = ?", false)
		}
		return visible()
	}
	if err := selected().Count(&result.Total).Error; err != nil {
		return ListResult{}, s.internal(opList, reasonStoreFailed, err, zap.String("recipient_id", recipientID))
	}
	if err := selected().Order("created_at DESC, notification_id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&result.Notifications).Error; err != nil {
		return ListResult{}, s.internal(opList, reasonStoreFailed, err, zap.String("recipient_id", recipientID))
	}
	return result, nil
}

// MarkRead marks one of the recipient's notifications read. Marking an
// already-read notification keeps its original read time.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) (Notification, error) {
	if strings.TrimSpace(recipientID) == "" || strings.TrimSpace(notificationID) == "" {
		return Notification{}, s.reject(opMarkRead, reasonInvalidInput, "recipient and notification are required", nil)
	}
	now := s.clock().UTC()
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("notification_id = ? AND recipient_id = ? AND is_read = ?", notificationID, recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now, "updated_at": now}).Error
	if err != nil {
		return Notification{}, s.internal(opMarkRead, reasonStoreFailed, err, zap.String("notification_id", notificationID))
	}

	var notification Notification
	err = s.db.WithContext(ctx).
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, apperrors.New(apperrors.KindNotFound, opMarkRead, "notification_not_found", "notification not found", nil)
	}
	if err != nil {
		return Notification{}, s.internal(opMarkRead, reasonStoreFailed, err, zap.String("notification_id", notificationID))
	}
	return notification, nil
}

// MarkAllRead marks every unread notification of the recipient read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, s.reject(opMarkAllRead, reasonInvalidInput, "recipient is required", nil)
	}
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now, "updated_at": now})
	if result.Error != nil {
		return 0, s.internal(opMarkAllRead, reasonStoreFailed, result.Error, zap.String("recipient_id", recipientID))
	}
	return result.RowsAffected, nil
}

// PurgeExpired deletes notifications whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&Notification{})
	if result.Error != nil {
		return 0, s.internal(opPurgeExpired, reasonStoreFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("expired notifications purged", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) reject(operation, reason, message string, cause error) *apperrors.Error {
	s.logger.Info("notification request rejected",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.NamedError("cause", cause))
	return apperrors.New(apperrors.KindValidation, operation, reason, message, cause)
}

func (s *Service) internal(operation, reason string, cause error, fields ...zap.Field) *apperrors.Error {
	s.logError(operation, reason, cause, fields...)
	return apperrors.New(apperrors.KindInternal, operation, reason, "internal error", cause)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notifications service error", attrs...)
}

func paginate(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func preview(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) <= previewLength {
		return trimmed
	}
	return string(runes[:previewLength-1]) + "…"
}
