package operations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	topTypesLimit   = 5

	queryCacheKeyPrefix = "operations:query:"
	statsCacheKeyPrefix = "operations:stats:"
	tagAllOperations    = "operations"
	tagStatsAll         = "operations:stats"
	tagTaskPrefix       = "task:"
	tagProjectPrefix    = "project:"
)

// QueryFilter selects operations of one task or one project.
type QueryFilter struct {
	TaskID    string
	ProjectID string
	Type      Type
	Status    Status
	Page      int
	Limit     int
}

// QueryResult is one page of operations, most recent first.
type QueryResult struct {
	Operations []TaskOperation `json:"operations"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
}

// TypeCount is the frequency of one operation type.
type TypeCount struct {
	Type  Type  `json:"type"`
	Count int64 `json:"count"`
}

// Stats aggregates the operation log, optionally for one project.
type Stats struct {
	Total    int64       `json:"total"`
	Today    int64       `json:"today"`
	Failed   int64       `json:"failed"`
	TopTypes []TypeCount `json:"topTypes"`
}

// Query returns a page of operations for a task or a project.
func (s *Service) Query(ctx context.Context, filter QueryFilter) (QueryResult, error) {
	filter.TaskID = strings.TrimSpace(filter.TaskID)
	filter.ProjectID = strings.TrimSpace(filter.ProjectID)
	if filter.TaskID == "" && filter.ProjectID == "" {
		return QueryResult{}, apperrors.New(apperrors.KindValidation, opQuery, reasonInvalidInput, "taskId or projectId is required", nil)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	key := fmt.Sprintf("%stask=%s|project=%s|type=%s|status=%s|page=%d|limit=%d",
		queryCacheKeyPrefix, filter.TaskID, filter.ProjectID, filter.Type, filter.Status, filter.Page, filter.Limit)
	tags := []string{tagAllOperations}
	if filter.TaskID != "" {
		tags = append(tags, tagTaskPrefix+filter.TaskID)
	}
	if filter.ProjectID != "" {
		tags = append(tags, tagProjectPrefix+filter.ProjectID)
	}

	return cache.ReadThrough(ctx, s.cache, s.logger, key, s.cacheTTL, tags, func(ctx context.Context) (QueryResult, error) {
		return s.loadPage(ctx, filter)
	})
}

func (s *Service) loadPage(ctx context.Context, filter QueryFilter) (QueryResult, error) {
	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&TaskOperation{})
		if filter.TaskID != "" {
			query = query.Where("task_id = ?", filter.TaskID)
		}
		if filter.ProjectID != "" {
			query = query.Where("project_id = ?", filter.ProjectID)
		}
		if filter.Type != "" {
			query = query.Where("operation_type = ?", filter.Type)
		}
		if filter.Status != "" {
			query = query.Where("broadcast_status = ?", filter.Status)
		}
		return query
	}

	result := QueryResult{Page: filter.Page, Limit: filter.Limit, Operations: []TaskOperation{}}
	if err := scoped().Count(&result.Total).Error; err != nil {
		return QueryResult{}, s.internal(opQuery, reasonStoreFailed, err)
	}
	if err := scoped().
		Order("created_at DESC, operation_id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&result.Operations).Error; err != nil {
		return QueryResult{}, s.internal(opQuery, reasonStoreFailed, err)
	}
	return result, nil
}

// GetRealtimeStats aggregates totals, today's count (UTC), failures and the
// most frequent operation types. An empty projectID covers every project.
func (s *Service) GetRealtimeStats(ctx context.Context, projectID string) (Stats, error) {
	projectID = strings.TrimSpace(projectID)
	now := s.clock().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	key := fmt.Sprintf("%sproject=%s|day=%s", statsCacheKeyPrefix, projectID, startOfDay.Format("2006-01-02"))
	tags := []string{tagAllOperations, tagStatsAll}
	if projectID != "" {
		tags = append(tags, tagProjectPrefix+projectID)
	}
	return cache.ReadThrough(ctx, s.cache, s.logger, key, s.cacheTTL, tags, func(ctx context.Context) (Stats, error) {
		return s.loadStats(ctx, projectID, startOfDay)
	})
}

func (s *Service) loadStats(ctx context.Context, projectID string, startOfDay time.Time) (Stats, error) {
	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&TaskOperation{})
		if projectID != "" {
			query = query.Where("project_id = ?", projectID)
		}
		return query
	}

	stats := Stats{TopTypes: []TypeCount{}}
	if err := scoped().Count(&stats.Total).Error; err != nil {
		return Stats{}, s.internal(opStats, reasonStoreFailed, err)
	}
	if err := scoped().Where("created_at >= ?", startOfDay).Count(&stats.Today).Error; err != nil {
		return Stats{}, s.internal(opStats, reasonStoreFailed, err)
	}
	if err := scoped().Where("broadcast_status = ?", StatusFailed).Count(&stats.Failed).Error; err != nil {
		return Stats{}, s.internal(opStats, reasonStoreFailed, err)
	}
	if err := scoped().
		Select("operation_type AS type, COUNT(*) AS count").
		Group("operation_type").
		Order("count DESC, operation_type ASC").
		Limit(topTypesLimit).
		Scan(&stats.TopTypes).Error; err != nil {
		return Stats{}, s.internal(opStats, reasonStoreFailed, err)
	}
	return stats, nil
}

func (s *Service) invalidate(ctx context.Context, operation TaskOperation) {
	if s.cache == nil {
		return
	}
	err := s.cache.Invalidate(ctx, tagTaskPrefix+operation.TaskID, tagProjectPrefix+operation.ProjectID, tagStatsAll)
	if err != nil {
		s.logger.Warn("operation cache invalidation failed",
			zap.String("operation_id", operation.ID),
			zap.Error(err))
	}
}
