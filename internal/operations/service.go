// Package operations keeps the audited log of task-board operations and
// delivers each one to the project's stakeholders with durable delivery
// status, so failed deliveries can be retried.
package operations

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/cache"
	"github.com/MarcoPoloResearchLab/huddle/internal/ids"
	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew = "operations.service.new"
	opRecord     = "operations.record"
	opFinalize   = "operations.finalize_broadcast"
	opRetry      = "operations.retry_failed"
	opQuery      = "operations.query"
	opCleanup    = "operations.cleanup"
	opStats      = "operations.stats"

	reasonStoreFailed  = "store_failed"
	reasonInvalidInput = "invalid_input"

	defaultRetryWindow      = time.Hour
	defaultRetention        = 30 * 24 * time.Hour
	defaultStalePending     = time.Minute
	defaultBroadcastTimeout = 10 * time.Second
	defaultCacheTTL         = 30 * time.Second
)

var (
	// ErrTaskNotFound is returned when an operation references an unknown task.
	ErrTaskNotFound = errors.New("operations: task not found")
	// ErrProjectNotFound is returned when an operation references an unknown project.
	ErrProjectNotFound = errors.New("operations: project not found")
	// ErrOperationNotFound is returned when no operation row exists.
	ErrOperationNotFound = errors.New("operations: operation not found")
)

// NotificationCreator creates system notifications.
type NotificationCreator interface {
	Create(ctx context.Context, req notifications.CreateRequest) (notifications.Notification, error)
}

// ProjectRooms lists the channels that serve as a project's rooms.
type ProjectRooms interface {
	ChannelIDsForProject(ctx context.Context, projectID string) ([]string, error)
}

// ServiceConfig describes the dependencies of the operation log.
type ServiceConfig struct {
	Database         *gorm.DB
	Transport        broadcast.Transport
	Notifications    NotificationCreator
	Rooms            ProjectRooms
	Cache            cache.Cache
	CacheTTL         time.Duration
	RetryWindow      time.Duration
	Retention        time.Duration
	StalePending     time.Duration
	BroadcastTimeout time.Duration
	Clock            func() time.Time
	IDProvider       ids.Provider
	Logger           *zap.Logger
}

// Service records operations and tracks their broadcast delivery.
type Service struct {
	db               *gorm.DB
	transport        broadcast.Transport
	notifications    NotificationCreator
	rooms            ProjectRooms
	cache            cache.Cache
	cacheTTL         time.Duration
	retryWindow      time.Duration
	retention        time.Duration
	stalePending     time.Duration
	broadcastTimeout time.Duration
	clock            func() time.Time
	idProvider       ids.Provider
	validate         *validator.Validate
	logger           *zap.Logger
	inflight         sync.WaitGroup
}

// NewService validates cfg and constructs the operation log.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_database", "database handle is required", nil)
	}
	if cfg.Transport == nil {
		return nil, apperrors.New(apperrors.KindInternal, opServiceNew, "missing_transport", "broadcast transport is required", nil)
	}
	service := &Service{
		db:               cfg.Database,
		transport:        cfg.Transport,
		notifications:    cfg.Notifications,
		rooms:            cfg.Rooms,
		cache:            cfg.Cache,
		cacheTTL:         durationOr(cfg.CacheTTL, defaultCacheTTL),
		retryWindow:      durationOr(cfg.RetryWindow, defaultRetryWindow),
		retention:        durationOr(cfg.Retention, defaultRetention),
		stalePending:     durationOr(cfg.StalePending, defaultStalePending),
		broadcastTimeout: durationOr(cfg.BroadcastTimeout, defaultBroadcastTimeout),
		clock:            cfg.Clock,
		idProvider:       cfg.IDProvider,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		logger:           cfg.Logger,
	}
	if service.clock == nil {
		service.clock = time.Now
	}
	if service.idProvider == nil {
		service.idProvider = ids.NewUUIDProvider()
	}
	if service.logger == nil {
		service.logger = zap.NewNop()
	}
	return service, nil
}

// Record validates and persists an operation as pending, then finalizes its
// broadcast in the background. Assignments also notify the new assignee.
func (s *Service) Record(ctx context.Context, req RecordRequest) (TaskOperation, error) {
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.TaskID = strings.TrimSpace(req.TaskID)
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if err := validateRecord(s.validate, req); err != nil {
		s.logger.Info("operation rejected", zap.String("type", string(req.Type)), zap.Error(err))
		return TaskOperation{}, apperrors.New(apperrors.KindValidation, opRecord, reasonInvalidInput, err.Error(), err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return TaskOperation{}, s.internal(opRecord, "id_generation_failed", err)
	}
	var metadata datatypes.JSON
	if len(req.Metadata) > 0 {
		encoded, err := json.Marshal(req.Metadata)
		if err != nil {
			return TaskOperation{}, apperrors.New(apperrors.KindValidation, opRecord, "invalid_metadata", "metadata must be a JSON object", err)
		}
		metadata = datatypes.JSON(encoded)
	}

	now := s.clock().UTC()
	operation := TaskOperation{
		ID:              id,
		Type:            req.Type,
		Category:        req.Category,
		ActorID:         req.ActorID,
		ActorName:       req.ActorName,
		TaskID:          req.TaskID,
		ProjectID:       req.ProjectID,
		DepartmentID:    req.DepartmentID,
		PreviousState:   jsonOrNil(req.Previous),
		NewState:        jsonOrNil(req.Next),
		Metadata:        metadata,
		BroadcastStatus: StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(&operation).Error; err != nil {
		return TaskOperation{}, s.internal(opRecord, reasonStoreFailed, err, zap.String("task_id", req.TaskID))
	}
	s.invalidate(ctx, operation)

	if operation.Type == TypeAssignment {
		s.notifyAssignee(ctx, operation)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.broadcastTimeout)
		defer cancel()
		if err := s.FinalizeBroadcast(finalizeCtx, operation.ID); err != nil {
			s.logger.Warn("operation broadcast not delivered",
				zap.String("operation_id", operation.ID),
				zap.Error(err))
		}
	}()
	return operation, nil
}

// Wait blocks until background finalizations started by Record complete.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) notifyAssignee(ctx context.Context, operation TaskOperation) {
	if s.notifications == nil {
		return
	}
	assignee := strings.TrimSpace(assigneeOf(json.RawMessage(operation.NewState)))
	if assignee == "" || assignee == operation.ActorID {
		return
	}
	title := "You were assigned a task"
	var task TaskReference
	if err := s.db.WithContext(ctx).Where("task_id = ?", operation.TaskID).Take(&task).Error; err == nil && task.Title != "" {
		title = "You were assigned: " + task.Title
	}
	_, err := s.notifications.Create(ctx, notifications.CreateRequest{
		Type:        notifications.TypeTaskAssigned,
		Category:    notifications.CategoryTask,
		RecipientID: assignee,
		SenderID:    operation.ActorID,
		SenderName:  operation.ActorName,
		Title:       title,
		Message:     title,
		EntityType:  "task",
		EntityID:    operation.TaskID,
		EntityName:  task.Title,
		ActionType:  "open_task",
		Priority:    notifications.PriorityHigh,
	})
	if err != nil {
		s.logError(opRecord, "assignment_notification_failed", err, zap.String("operation_id", operation.ID))
	}
}

// CleanupOldOperations deletes operations older than the retention period,
// whatever their delivery status.
func (s *Service) CleanupOldOperations(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-s.retention)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&TaskOperation{})
	if result.Error != nil {
		return 0, s.internal(opCleanup, reasonStoreFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("old operations removed", zap.Int64("count", result.RowsAffected), zap.Time("cutoff", cutoff))
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, tagAllOperations); err != nil {
				s.logger.Warn("operation cache invalidation failed", zap.Error(err))
			}
		}
	}
	return result.RowsAffected, nil
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
	s.logger.Error("operations service error", attrs...)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func jsonOrNil(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
