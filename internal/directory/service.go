package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/auth"
	"github.com/MarcoPoloResearchLab/huddle/internal/cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	profileCacheKeyPrefix = "directory:profile:"
	defaultProfileTTL     = 5 * time.Minute
)

var (
	// ErrInvalidProfile indicates that a profile update lacked an identifier.
	ErrInvalidProfile = errors.New("directory: invalid profile")
	// ErrProfileNotFound is returned when a single lookup does not resolve.
	ErrProfileNotFound = errors.New("directory: profile not found")
)

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Service resolves member identifiers to profiles.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("directory: database connection required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		cache:    cfg.Cache,
		cacheTTL: ttl,
		logger:   logger,
	}, nil
}

// ResolveMembers returns profiles for the existing, non-deleted identifiers
// among ids, ordered by id. Unknown identifiers are omitted; callers compare
// lengths to detect them.
func (s *Service) ResolveMembers(ctx context.Context, ids []string) ([]Profile, error) {
	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return nil, nil
	}

	resolved := make(map[string]Profile, len(unique))
	missing := make([]string, 0, len(unique))
	for _, id := range unique {
		if profile, ok := s.cachedProfile(ctx, id); ok {
			resolved[id] = profile
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		var rows []Profile
		if err := s.db.WithContext(ctx).Where("member_id IN ?", missing).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("directory: resolve members: %w", err)
		}
		for _, row := range rows {
			resolved[row.ID] = row
			s.storeProfile(ctx, row)
		}
	}

	profiles := make([]Profile, 0, len(resolved))
	for _, profile := range resolved {
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles, nil
}

// Lookup resolves a single profile.
func (s *Service) Lookup(ctx context.Context, id string) (Profile, error) {
	profiles, err := s.ResolveMembers(ctx, []string{id})
	if err != nil {
		return Profile{}, err
	}
	if len(profiles) != 1 {
		return Profile{}, ErrProfileNotFound
	}
	return profiles[0], nil
}

// UpsertProfile creates or replaces a profile and invalidates its cache entry.
func (s *Service) UpsertProfile(ctx context.Context, profile Profile) error {
	profile.ID = normalize(profile.ID)
	if profile.ID == "" {
		return ErrInvalidProfile
	}
	profile.Email = normalize(profile.Email)
	profile.Name = normalize(profile.Name)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "avatar_url", "role", "department_id", "is_client", "updated_at", "deleted_at"}),
	}).Create(&profile).Error
	if err != nil {
		return fmt.Errorf("directory: upsert profile: %w", err)
	}
	s.evict(ctx, profile.ID)
	return nil
}

// DeleteProfile soft-deletes a profile so it no longer resolves.
func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("member_id = ?", id).Delete(&Profile{}).Error; err != nil {
		return fmt.Errorf("directory: delete profile: %w", err)
	}
	s.evict(ctx, id)
	return nil
}

// SyncFromClaims refreshes name, email and avatar for an authenticated user,
// creating the profile on first sight. Department, role and client flags are
// owned by the CRM and left untouched.
func (s *Service) SyncFromClaims(ctx context.Context, claims auth.SessionClaims) error {
	userID := normalize(claims.UserID)
	if userID == "" {
		return ErrInvalidProfile
	}

	var existing Profile
	err := s.db.WithContext(ctx).Where("member_id = ?", userID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := Profile{
			ID:     userID,
			Name:   normalize(claims.UserDisplayName),
			Email:  normalize(claims.UserEmail),
			Avatar: normalize(claims.UserAvatarURL),
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
			return fmt.Errorf("directory: create profile: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("directory: load profile: %w", err)
	}

	updates := map[string]interface{}{}
	if name := normalize(claims.UserDisplayName); name != "" && name != existing.Name {
		updates["name"] = name
	}
	if email := normalize(claims.UserEmail); email != "" && email != existing.Email {
		updates["email"] = email
	}
	if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != existing.Avatar {
		updates["avatar_url"] = avatar
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&Profile{}).Where("member_id = ?", userID).Updates(updates).Error; err != nil {
		return fmt.Errorf("directory: refresh profile: %w", err)
	}
	s.evict(ctx, userID)
	return nil
}

func (s *Service) cachedProfile(ctx context.Context, id string) (Profile, bool) {
	if s.cache == nil {
		return Profile{}, false
	}
	raw, found, err := s.cache.Get(ctx, profileCacheKeyPrefix+id)
	if err != nil {
		s.logger.Warn("profile cache read failed", zap.String("member_id", id), zap.Error(err))
		return Profile{}, false
	}
	if !found {
		return Profile{}, false
	}
	var profile Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return Profile{}, false
	}
	return profile, true
}

func (s *Service) storeProfile(ctx context.Context, profile Profile) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, profileCacheKeyPrefix+profile.ID, raw, s.cacheTTL); err != nil {
		s.logger.Warn("profile cache write failed", zap.String("member_id", profile.ID), zap.Error(err))
	}
}

func (s *Service) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, profileCacheKeyPrefix+id); err != nil {
		s.logger.Warn("profile cache eviction failed", zap.String("member_id", id), zap.Error(err))
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := normalize(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
