package channels

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryChannelID       = "channel_id = ?"
	queryChannelMember   = "channel_id = ? AND member_id = ?"
	orderMembersListing  = "role ASC, joined_at ASC, member_id ASC"
	orderOldestMember    = "joined_at ASC, member_id ASC"
	columnMemberCount    = "member_count"
	columnChannelUpdated = "updated_at"

	tableProjectReferences = "project_references"
)

var (
	// ErrChannelNotFound is returned when no channel row exists.
	ErrChannelNotFound = errors.New("channels: channel not found")
	// ErrMemberNotFound is returned when no membership row exists.
	ErrMemberNotFound = errors.New("channels: member not found")
)

// Store is the relational persistence of channels and membership rows.
// A Store bound to a transaction (see Transaction) reads and writes inside it.
type Store struct {
	db *gorm.DB
}

// NewStore binds a store to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// CreateChannel inserts channel together with its owner row.
func (s *Store) CreateChannel(ctx context.Context, channel *Channel, owner ChannelMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner.ChannelID = channel.ID
		owner.Role = RoleOwner
		channel.MemberCount = 1
		if err := tx.Create(channel).Error; err != nil {
			return err
		}
		return tx.Create(&owner).Error
	})
}

// FindByID loads a channel.
func (s *Store) FindByID(ctx context.Context, channelID string) (Channel, error) {
	var channel Channel
	err := s.db.WithContext(ctx).Where(queryChannelID, channelID).Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, ErrChannelNotFound
	}
	return channel, err
}

// LockChannel loads a channel with a row lock held until the transaction ends.
// Every membership mutation takes this lock first, which serializes writers
// per channel.
func (s *Store) LockChannel(ctx context.Context, channelID string) (Channel, error) {
	var channel Channel
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryChannelID, channelID).
		Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, ErrChannelNotFound
	}
	return channel, err
}

// FindMember loads one membership row.
func (s *Store) FindMember(ctx context.Context, channelID, memberID string) (ChannelMember, error) {
	var member ChannelMember
	err := s.db.WithContext(ctx).Where(queryChannelMember, channelID, memberID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChannelMember{}, ErrMemberNotFound
	}
	return member, err
}

// FindMemberRole returns the member's role in the channel.
func (s *Store) FindMemberRole(ctx context.Context, channelID, memberID string) (Role, error) {
	member, err := s.FindMember(ctx, channelID, memberID)
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

// ExistingMemberIDs returns which of memberIDs already belong to the channel.
func (s *Store) ExistingMemberIDs(ctx context.Context, channelID string, memberIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(memberIDs))
	if len(memberIDs) == 0 {
		return existing, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where("channel_id = ? AND member_id IN ?", channelID, memberIDs).
		Pluck("member_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// InsertMembers inserts a batch of membership rows.
func (s *Store) InsertMembers(ctx context.Context, members []ChannelMember) error {
	if len(members) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&members).Error
}

// DeleteMember removes one membership row.
func (s *Store) DeleteMember(ctx context.Context, channelID, memberID string) error {
	result := s.db.WithContext(ctx).Where(queryChannelMember, channelID, memberID).Delete(&ChannelMember{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// UpdateMemberRole sets a member's role.
func (s *Store) UpdateMemberRole(ctx context.Context, channelID, memberID string, role Role) error {
	return s.UpdateMemberFields(ctx, channelID, memberID, map[string]interface{}{"role": role})
}

// UpdateMemberFields applies column updates to one membership row.
func (s *Store) UpdateMemberFields(ctx context.Context, channelID, memberID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where(queryChannelMember, channelID, memberID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// UpdateChannelFields applies column updates to a channel row.
func (s *Store) UpdateChannelFields(ctx context.Context, channelID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&Channel{}).Where(queryChannelID, channelID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// AdjustMemberCount adds delta to the denormalized member count.
func (s *Store) AdjustMemberCount(ctx context.Context, channelID string, delta int) error {
	return s.db.WithContext(ctx).Model(&Channel{}).
		Where(queryChannelID, channelID).
		UpdateColumn(columnMemberCount, gorm.Expr(columnMemberCount+" + ?", delta)).Error
}

// SetMemberCount overwrites the denormalized member count.
func (s *Store) SetMemberCount(ctx context.Context, channelID string, count int64) error {
	return s.db.WithContext(ctx).Model(&Channel{}).
		Where(queryChannelID, channelID).
		UpdateColumn(columnMemberCount, count).Error
}

// CountMembers counts the live membership rows of a channel.
func (s *Store) CountMembers(ctx context.Context, channelID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ChannelMember{}).Where(queryChannelID, channelID).Count(&count).Error
	return count, err
}

// CountManagers counts owners and admins, ignoring excludeMemberID.
func (s *Store) CountManagers(ctx context.Context, channelID, excludeMemberID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where("channel_id = ? AND member_id <> ? AND role IN ?", channelID, excludeMemberID, []Role{RoleOwner, RoleAdmin}).
		Count(&count).Error
	return count, err
}

// OldestMember returns the earliest-joined plain member other than
// excludeMemberID. Simultaneous joins are ordered by member id.
func (s *Store) OldestMember(ctx context.Context, channelID, excludeMemberID string) (ChannelMember, bool, error) {
	var member ChannelMember
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND member_id <> ? AND role = ?", channelID, excludeMemberID, RoleMember).
		Order(orderOldestMember).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChannelMember{}, false, nil
	}
	if err != nil {
		return ChannelMember{}, false, err
	}
	return member, true, nil
}

// CountPinnedByUser counts the channels a user has pinned, system-wide.
func (s *Store) CountPinnedByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where("member_id = ? AND is_pinned = ?", userID, true).
		Count(&count).Error
	return count, err
}

// ListMembers returns every row of a channel in listing order.
func (s *Store) ListMembers(ctx context.Context, channelID string) ([]ChannelMember, error) {
	var members []ChannelMember
	err := s.db.WithContext(ctx).Where(queryChannelID, channelID).Order(orderMembersListing).Find(&members).Error
	return members, err
}

// ChannelIDsForMember lists the channels a member currently belongs to.
func (s *Store) ChannelIDsForMember(ctx context.Context, memberID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&ChannelMember{}).
		Where("member_id = ?", memberID).
		Order("channel_id ASC").
		Pluck("channel_id", &ids).Error
	return ids, err
}

// LockMemberships locks every membership row of a user so concurrent pin
// toggles by the same user observe each other's counts.
func (s *Store) LockMemberships(ctx context.Context, memberID string) ([]ChannelMember, error) {
	var members []ChannelMember
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ?", memberID).
		Order("channel_id ASC").
		Find(&members).Error
	return members, err
}

// ChannelIDsForProject lists the active channels scoped to a project.
func (s *Store) ChannelIDsForProject(ctx context.Context, projectID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Channel{}).
		Where("project_id = ? AND is_archived = ?", projectID, false).
		Order("channel_id ASC").
		Pluck("channel_id", &ids).Error
	return ids, err
}

// ProjectDepartment returns the home department recorded for a project, or
// an empty string when the project is unknown.
func (s *Store) ProjectDepartment(ctx context.Context, projectID string) (string, error) {
	var departments []string
	err := s.db.WithContext(ctx).Table(tableProjectReferences).
		Where("project_id = ?", projectID).
		Limit(1).
		Pluck("department_id", &departments).Error
	if err != nil || len(departments) == 0 {
		return "", err
	}
	return departments[0], nil
}
