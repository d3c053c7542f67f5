package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const retryBatchSize = 500

// RetryResult summarizes one retry pass.
type RetryResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// FinalizeBroadcast delivers a recorded operation to the project's
// stakeholders, the actor, the task assignee and the project rooms, then
// records the outcome. An unknown task or project leaves the row untouched
// so a later retry can pick it up.
func (s *Service) FinalizeBroadcast(ctx context.Context, operationID string) error {
	var operation TaskOperation
	err := s.db.WithContext(ctx).Where("operation_id = ?", operationID).Take(&operation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, opFinalize, "operation_not_found", "operation not found", ErrOperationNotFound)
	}
	if err != nil {
		return s.internal(opFinalize, reasonStoreFailed, err, zap.String("operation_id", operationID))
	}
	if operation.BroadcastStatus == StatusSuccess {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&TaskOperation{}).
		Where("operation_id = ?", operationID).
		UpdateColumn("broadcast_attempts", gorm.Expr("broadcast_attempts + 1")).Error; err != nil {
		return s.internal(opFinalize, reasonStoreFailed, err, zap.String("operation_id", operationID))
	}

	task, project, err := s.resolveReferences(ctx, operation)
	if err != nil {
		return err
	}
	recipients, err := s.recipients(ctx, operation, task)
	if err != nil {
		return s.internal(opFinalize, reasonStoreFailed, err, zap.String("operation_id", operationID))
	}

	event := broadcast.TaskOperationEvent{
		OperationID: operation.ID,
		Type:        string(operation.Type),
		TaskID:      task.TaskID,
		TaskTitle:   task.Title,
		ProjectID:   project.ProjectID,
		ProjectName: project.Name,
		ActorID:     operation.ActorID,
		ActorName:   operation.ActorName,
		Previous:    json.RawMessage(operation.PreviousState),
		Next:        json.RawMessage(operation.NewState),
		OccurredAt:  operation.CreatedAt,
	}
	if deliveryErr := s.deliver(ctx, project.ProjectID, recipients, event); deliveryErr != nil {
		s.markFailed(ctx, operation, deliveryErr)
		return apperrors.New(apperrors.KindInternal, opFinalize, "delivery_failed", "operation broadcast failed", deliveryErr)
	}
	s.markSucceeded(ctx, operation, len(recipients))
	return nil
}

// RetryFailedBroadcasts re-finalizes failed operations created within the
// retry window, along with pending ones that were never finalized. Older
// failures are abandoned.
func (s *Service) RetryFailedBroadcasts(ctx context.Context) (RetryResult, error) {
	now := s.clock().UTC()
	windowStart := now.Add(-s.retryWindow)
	staleBefore := now.Add(-s.stalePending)

	var candidates []string
	err := s.db.WithContext(ctx).Model(&TaskOperation{}).
		Where("created_at >= ?", windowStart).
		Where("broadcast_status = ? OR (broadcast_status = ? AND created_at <= ?)", StatusFailed, StatusPending, staleBefore).
		Order("created_at ASC").
		Limit(retryBatchSize).
		Pluck("operation_id", &candidates).Error
	if err != nil {
		return RetryResult{}, s.internal(opRetry, reasonStoreFailed, err)
	}

	result := RetryResult{}
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		if err := s.FinalizeBroadcast(ctx, id); err != nil {
			s.logger.Warn("operation retry failed", zap.String("operation_id", id), zap.Error(err))
			continue
		}
		result.Succeeded++
	}
	if result.Attempted > 0 {
		s.logger.Info("operation broadcasts retried",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded))
	}
	return result, nil
}

func (s *Service) resolveReferences(ctx context.Context, operation TaskOperation) (TaskReference, ProjectReference, error) {
	var task TaskReference
	err := s.db.WithContext(ctx).Where("task_id = ?", operation.TaskID).Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TaskReference{}, ProjectReference{}, apperrors.New(apperrors.KindNotFound, opFinalize, "task_not_found", "task not found", ErrTaskNotFound)
	}
	if err != nil {
		return TaskReference{}, ProjectReference{}, s.internal(opFinalize, reasonStoreFailed, err, zap.String("task_id", operation.TaskID))
	}

	var project ProjectReference
	err = s.db.WithContext(ctx).Where("project_id = ?", operation.ProjectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TaskReference{}, ProjectReference{}, apperrors.New(apperrors.KindNotFound, opFinalize, "project_not_found", "project not found", ErrProjectNotFound)
	}
	if err != nil {
		return TaskReference{}, ProjectReference{}, s.internal(opFinalize, reasonStoreFailed, err, zap.String("project_id", operation.ProjectID))
	}
	return task, project, nil
}

// recipients returns the sorted set of stakeholders, the actor and the
// assignee.
func (s *Service) recipients(ctx context.Context, operation TaskOperation, task TaskReference) ([]string, error) {
	var stakeholders []string
	err := s.db.WithContext(ctx).Model(&ProjectStakeholder{}).
		Where("project_id = ?", operation.ProjectID).
		Pluck("member_id", &stakeholders).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(stakeholders)+2)
	for _, id := range append(stakeholders, operation.ActorID, task.AssigneeID) {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	recipients := make([]string, 0, len(set))
	for id := range set {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)
	return recipients, nil
}

func (s *Service) deliver(ctx context.Context, projectID string, recipients []string, event broadcast.TaskOperationEvent) error {
	var errs []error
	for _, userID := range recipients {
		if err := s.transport.PublishToUser(ctx, userID, event); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	if s.rooms != nil {
		rooms, err := s.rooms.ChannelIDsForProject(ctx, projectID)
		if err != nil {
			errs = append(errs, fmt.Errorf("project rooms: %w", err))
		}
		for _, channelID := range rooms {
			if err := s.transport.PublishToChannel(ctx, channelID, event); err != nil {
				errs = append(errs, fmt.Errorf("channel %s: %w", channelID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) markSucceeded(ctx context.Context, operation TaskOperation, recipients int) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&TaskOperation{}).
		Where("operation_id = ? AND broadcast_status IN ?", operation.ID, []Status{StatusPending, StatusFailed}).
		Updates(map[string]interface{}{
			"broadcast_status": StatusSuccess,
			"broadcast_error":  "",
			"broadcast_at":     now,
			"updated_at":       now,
		})
	if result.Error != nil {
		s.logError(opFinalize, reasonStoreFailed, result.Error, zap.String("operation_id", operation.ID))
		return
	}
	s.logger.Debug("operation broadcast delivered",
		zap.String("operation_id", operation.ID),
		zap.Int("recipients", recipients))
	s.invalidate(ctx, operation)
}

func (s *Service) markFailed(ctx context.Context, operation TaskOperation, cause error) {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).Model(&TaskOperation{}).
		Where("operation_id = ? AND broadcast_status IN ?", operation.ID, []Status{StatusPending, StatusFailed}).
		Updates(map[string]interface{}{
			"broadcast_status": StatusFailed,
			"broadcast_error":  cause.Error(),
			"updated_at":       now,
		})
	if result.Error != nil {
		s.logError(opFinalize, reasonStoreFailed, result.Error, zap.String("operation_id", operation.ID))
		return
	}
	s.logError(opFinalize, "delivery_failed", cause, zap.String("operation_id", operation.ID))
	s.invalidate(ctx, operation)
}
