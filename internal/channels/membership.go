package channels

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"go.uber.org/zap"
)

// AddMembersRequest describes a batch of members to add.
type AddMembersRequest struct {
	ChannelID   string
	RequesterID string
	MemberIDs   []string
	Role        Role
}

// AddMembers adds every not-yet-present member in one transaction and returns
// the full member list. Members already in the channel are skipped; any other
// rejection rejects the whole batch.
func (s *Service) AddMembers(ctx context.Context, req AddMembersRequest) ([]MemberView, error) {
	if err := requireIDs(req.ChannelID, req.RequesterID); err != nil {
		return nil, s.reject(apperrors.KindValidation, opAddMembers, reasonInvalidInput, "channel and requester are required")
	}
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if !role.Assignable() {
		return nil, s.reject(apperrors.KindValidation, opAddMembers, "invalid_role", "members can only be added as admin or member")
	}
	requested := uniqueMemberIDs(req.MemberIDs)
	if len(requested) == 0 {
		return nil, s.reject(apperrors.KindValidation, opAddMembers, reasonInvalidInput, "at least one member id is required")
	}

	// Profiles are resolved before the transaction opens so the directory
	// never waits on the channel lock.
	resolved, err := s.directory.ResolveMembers(ctx, requested)
	if err != nil {
		return nil, s.internal(opAddMembers, "directory_failed", err, zap.String("channel_id", req.ChannelID))
	}
	profiles := make(map[string]directory.Profile, len(resolved))
	for _, profile := range resolved {
		profiles[profile.ID] = profile
	}

	var (
		channel       Channel
		requesterRole Role
		rows          []ChannelMember
		inserted      = map[string]struct{}{}
	)
	now := s.now()
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		var err error
		channel, err = s.lockChannel(ctx, tx, opAddMembers, req.ChannelID)
		if err != nil {
			return err
		}
		requester, err := s.requireMember(ctx, tx, opAddMembers, req.ChannelID, req.RequesterID)
		if err != nil {
			return err
		}
		requesterRole = requester.Role
		if channel.IsArchived {
			return s.reject(apperrors.KindConflict, opAddMembers, "channel_archived", "channel is archived")
		}
		if channel.AdminOnlyAdd && !requesterRole.CanManage() {
			return s.reject(apperrors.KindForbidden, opAddMembers, "admin_only_add", "only channel admins can add members")
		}
		if role == RoleAdmin && !requesterRole.CanManage() {
			return s.reject(apperrors.KindForbidden, opAddMembers, reasonNotManager, "only channel admins can add admins")
		}

		existing, err := tx.ExistingMemberIDs(ctx, req.ChannelID, requested)
		if err != nil {
			return s.internal(opAddMembers, reasonStoreFailed, err, zap.String("channel_id", req.ChannelID))
		}
		candidates := make([]string, 0, len(requested))
		for _, id := range requested {
			if _, ok := existing[id]; !ok {
				candidates = append(candidates, id)
			}
		}

		if len(candidates) > 0 {
			missing := make([]string, 0)
			for _, id := range candidates {
				if _, ok := profiles[id]; !ok {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				return s.reject(apperrors.KindNotFound, opAddMembers, "member_not_found", "one or more users were not found").
					WithDetails(map[string]any{"missingMemberIds": missing})
			}
			if !channel.AllowExternalMembers && channel.Scoped() {
				homeDepartment, err := s.homeDepartment(ctx, tx, channel)
				if err != nil {
					return err
				}
				external := externalMembers(homeDepartment, candidates, profiles)
				if len(external) > 0 {
					return s.reject(apperrors.KindForbidden, opAddMembers, "external_members_not_allowed", "channel does not allow members from outside its department").
						WithDetails(map[string]any{"externalMemberIds": external})
				}
			}

			batch := make([]ChannelMember, 0, len(candidates))
			for _, id := range candidates {
				batch = append(batch, ChannelMember{
					ChannelID: req.ChannelID,
					MemberID:  id,
					Role:      role,
					JoinedAt:  now,
					AddedBy:   req.RequesterID,
					AddedVia:  AddedViaManualAdd,
				})
				inserted[id] = struct{}{}
			}
			if err := tx.InsertMembers(ctx, batch); err != nil {
				return s.internal(opAddMembers, "member_insert_failed", err, zap.String("channel_id", req.ChannelID))
			}
			if err := tx.AdjustMemberCount(ctx, req.ChannelID, len(batch)); err != nil {
				return s.internal(opAddMembers, "member_count_failed", err, zap.String("channel_id", req.ChannelID))
			}
			if err := tx.UpdateChannelFields(ctx, req.ChannelID, map[string]interface{}{columnChannelUpdated: now}); err != nil {
				return s.internal(opAddMembers, reasonStoreFailed, err, zap.String("channel_id", req.ChannelID))
			}
		}

		rows, err = tx.ListMembers(ctx, req.ChannelID)
		if err != nil {
			return s.internal(opAddMembers, reasonStoreFailed, err, zap.String("channel_id", req.ChannelID))
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	views := s.enrich(ctx, rows, requesterRole)
	if len(inserted) == 0 {
		return views, nil
	}

	for id := range inserted {
		s.notifier.Publish(broadcast.ToUser(id), broadcast.MemberAdded{
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			ChannelType: string(channel.Type),
			Role:        string(role),
			AddedBy:     req.RequesterID,
			JoinedAt:    now,
		})
	}
	s.notifier.Publish(broadcast.ToChannel(channel.ID), broadcast.MembersAdded{
		ChannelID:   channel.ID,
		AddedBy:     req.RequesterID,
		Members:     memberSummaries(views, inserted),
		MemberCount: len(rows),
	})
	return views, nil
}

// RemoveMember removes targetID on behalf of an admin or owner.
func (s *Service) RemoveMember(ctx context.Context, channelID, requesterID, targetID string) ([]MemberView, error) {
	if err := requireIDs(channelID, requesterID, targetID); err != nil {
		return nil, s.reject(apperrors.KindValidation, opRemoveMember, reasonInvalidInput, "channel, requester and member are required")
	}
	if requesterID == targetID {
		return nil, s.reject(apperrors.KindValidation, opRemoveMember, "self_removal", "leave the channel instead of removing yourself")
	}

	var (
		requesterRole Role
		rows          []ChannelMember
	)
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		if _, err := s.lockChannel(ctx, tx, opRemoveMember, channelID); err != nil {
			return err
		}
		requester, err := s.requireManager(ctx, tx, opRemoveMember, channelID, requesterID)
		if err != nil {
			return err
		}
		requesterRole = requester.Role

		target, err := tx.FindMember(ctx, channelID, targetID)
		if errors.Is(err, ErrMemberNotFound) {
			return s.reject(apperrors.KindNotFound, opRemoveMember, "target_not_member", "member not found in channel")
		}
		if err != nil {
			return s.internal(opRemoveMember, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		if target.Role == RoleOwner {
			return s.reject(apperrors.KindForbidden, opRemoveMember, "target_is_owner", "the channel owner cannot be removed")
		}

		if err := tx.DeleteMember(ctx, channelID, targetID); err != nil {
			return s.internal(opRemoveMember, "member_delete_failed", err, zap.String("channel_id", channelID))
		}
		if err := tx.AdjustMemberCount(ctx, channelID, -1); err != nil {
			return s.internal(opRemoveMember, "member_count_failed", err, zap.String("channel_id", channelID))
		}
		if err := tx.UpdateChannelFields(ctx, channelID, map[string]interface{}{columnChannelUpdated: s.now()}); err != nil {
			return s.internal(opRemoveMember, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		rows, err = tx.ListMembers(ctx, channelID)
		if err != nil {
			return s.internal(opRemoveMember, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.notifier.Publish(broadcast.ToUser(targetID), broadcast.MemberRemoved{
		ChannelID: channelID,
		RemovedBy: requesterID,
	})
	s.notifier.Publish(broadcast.ToChannel(channelID), broadcast.MemberLeft{
		ChannelID:   channelID,
		MemberID:    targetID,
		RemovedBy:   requesterID,
		MemberCount: len(rows),
	})
	return s.enrich(ctx, rows, requesterRole), nil
}

// UpdateMemberRole moves a non-owner member between admin and member.
func (s *Service) UpdateMemberRole(ctx context.Context, channelID, requesterID, targetID string, newRole Role) (MemberView, error) {
	if err := requireIDs(channelID, requesterID, targetID); err != nil {
		return MemberView{}, s.reject(apperrors.KindValidation, opUpdateMemberRole, reasonInvalidInput, "channel, requester and member are required")
	}
	if !newRole.Assignable() {
		return MemberView{}, s.reject(apperrors.KindValidation, opUpdateMemberRole, "invalid_role", "role must be admin or member")
	}

	var (
		requesterRole Role
		target        ChannelMember
		previousRole  Role
	)
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		if _, err := s.lockChannel(ctx, tx, opUpdateMemberRole, channelID); err != nil {
			return err
		}
		requester, err := s.requireManager(ctx, tx, opUpdateMemberRole, channelID, requesterID)
		if err != nil {
			return err
		}
		requesterRole = requester.Role

		target, err = tx.FindMember(ctx, channelID, targetID)
		if errors.Is(err, ErrMemberNotFound) {
			return s.reject(apperrors.KindNotFound, opUpdateMemberRole, "target_not_member", "member not found in channel")
		}
		if err != nil {
			return s.internal(opUpdateMemberRole, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		if target.Role == RoleOwner {
			return s.reject(apperrors.KindForbidden, opUpdateMemberRole, "target_is_owner", "the owner role cannot be changed")
		}
		previousRole = target.Role
		if previousRole == newRole {
			return nil
		}
		if err := tx.UpdateMemberRole(ctx, channelID, targetID, newRole); err != nil {
			return s.internal(opUpdateMemberRole, "role_update_failed", err, zap.String("channel_id", channelID))
		}
		target.Role = newRole
		return nil
	})
	if txErr != nil {
		return MemberView{}, txErr
	}

	views := s.enrich(ctx, []ChannelMember{target}, requesterRole)
	if previousRole == newRole {
		return views[0], nil
	}
	event := broadcast.RoleChanged{
		ChannelID:    channelID,
		MemberID:     targetID,
		PreviousRole: string(previousRole),
		Role:         string(newRole),
		ChangedBy:    requesterID,
	}
	s.notifier.Publish(broadcast.ToChannel(channelID), event)
	s.notifier.Publish(broadcast.ToUser(targetID), event)
	return views[0], nil
}

// LeaveChannel removes userID from the channel. When the last admin leaves,
// the oldest remaining member is promoted first; when nobody remains, the
// channel is archived. The owner may only leave as the last member.
func (s *Service) LeaveChannel(ctx context.Context, channelID, userID string) (LeaveResult, error) {
	if err := requireIDs(channelID, userID); err != nil {
		return LeaveResult{}, s.reject(apperrors.KindValidation, opLeaveChannel, reasonInvalidInput, "channel and user are required")
	}

	result := LeaveResult{ChannelID: channelID}
	archivedEmpty := false
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		channel, err := s.lockChannel(ctx, tx, opLeaveChannel, channelID)
		if err != nil {
			return err
		}
		leaver, err := tx.FindMember(ctx, channelID, userID)
		if errors.Is(err, ErrMemberNotFound) {
			return s.reject(apperrors.KindValidation, opLeaveChannel, "not_a_member", "you are not a member of this channel")
		}
		if err != nil {
			return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}

		total, err := tx.CountMembers(ctx, channelID)
		if err != nil {
			return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		others := total - 1
		if leaver.Role == RoleOwner && others > 0 {
			return s.reject(apperrors.KindConflict, opLeaveChannel, "owner_cannot_leave", "the channel owner cannot leave while other members remain")
		}

		now := s.now()
		if leaver.Role.CanManage() {
			managers, err := tx.CountManagers(ctx, channelID, userID)
			if err != nil {
				return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
			}
			if managers == 0 && others == 0 {
				if err := s.archiveEmpty(ctx, tx, channel, userID); err != nil {
					return err
				}
				if err := tx.DeleteMember(ctx, channelID, userID); err != nil {
					return s.internal(opLeaveChannel, "member_delete_failed", err, zap.String("channel_id", channelID))
				}
				if err := tx.SetMemberCount(ctx, channelID, 0); err != nil {
					return s.internal(opLeaveChannel, "member_count_failed", err, zap.String("channel_id", channelID))
				}
				result.Archived = true
				archivedEmpty = true
				return nil
			}
			if managers == 0 {
				successor, found, err := tx.OldestMember(ctx, channelID, userID)
				if err != nil {
					return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
				}
				if found {
					if err := tx.UpdateMemberRole(ctx, channelID, successor.MemberID, RoleAdmin); err != nil {
						return s.internal(opLeaveChannel, "promotion_failed", err, zap.String("channel_id", channelID))
					}
					result.PromotedMemberID = successor.MemberID
				}
			}
		}

		if err := tx.DeleteMember(ctx, channelID, userID); err != nil {
			return s.internal(opLeaveChannel, "member_delete_failed", err, zap.String("channel_id", channelID))
		}
		if err := tx.AdjustMemberCount(ctx, channelID, -1); err != nil {
			return s.internal(opLeaveChannel, "member_count_failed", err, zap.String("channel_id", channelID))
		}
		remaining, err := tx.CountMembers(ctx, channelID)
		if err != nil {
			return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		result.RemainingMembers = int(remaining)
		if remaining == 0 {
			if err := s.archiveEmpty(ctx, tx, channel, userID); err != nil {
				return err
			}
			result.Archived = true
			return nil
		}
		if err := tx.UpdateChannelFields(ctx, channelID, map[string]interface{}{columnChannelUpdated: now}); err != nil {
			return s.internal(opLeaveChannel, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		return nil
	})
	if txErr != nil {
		return LeaveResult{}, txErr
	}

	if archivedEmpty {
		return result, nil
	}
	s.notifier.Publish(broadcast.ToChannel(channelID), broadcast.MemberLeft{
		ChannelID:        channelID,
		MemberID:         userID,
		PromotedMemberID: result.PromotedMemberID,
		MemberCount:      result.RemainingMembers,
	})
	if result.PromotedMemberID != "" {
		event := broadcast.RoleChanged{
			ChannelID:    channelID,
			MemberID:     result.PromotedMemberID,
			PreviousRole: string(RoleMember),
			Role:         string(RoleAdmin),
			ChangedBy:    userID,
		}
		s.notifier.Publish(broadcast.ToChannel(channelID), event)
		s.notifier.Publish(broadcast.ToUser(result.PromotedMemberID), event)
	}
	return result, nil
}

// archiveEmpty stamps an emptied channel as archived by the last leaver,
// keeping an earlier archival stamp if there is one.
func (s *Service) archiveEmpty(ctx context.Context, tx *Store, channel Channel, userID string) error {
	now := s.now()
	fields := map[string]interface{}{columnChannelUpdated: now}
	if !channel.IsArchived {
		fields["is_archived"] = true
		fields["archived_at"] = now
		fields["archived_by"] = userID
	}
	if err := tx.UpdateChannelFields(ctx, channel.ID, fields); err != nil {
		return s.internal(opLeaveChannel, "archive_failed", err, zap.String("channel_id", channel.ID))
	}
	s.logger.Info("channel archived after last member left",
		zap.String("channel_id", channel.ID),
		zap.String("member_id", userID))
	return nil
}

// homeDepartment is the department a scoped channel belongs to: its own
// department, or else the department of its project.
func (s *Service) homeDepartment(ctx context.Context, tx *Store, channel Channel) (string, error) {
	if channel.DepartmentID != "" || channel.ProjectID == "" {
		return channel.DepartmentID, nil
	}
	department, err := tx.ProjectDepartment(ctx, channel.ProjectID)
	if err != nil {
		return "", s.internal(opAddMembers, "project_lookup_failed", err,
			zap.String("channel_id", channel.ID),
			zap.String("project_id", channel.ProjectID))
	}
	return department, nil
}

// externalMembers returns candidates that are clients or belong to a
// department other than homeDepartment. An empty homeDepartment only
// excludes clients.
func externalMembers(homeDepartment string, candidates []string, profiles map[string]directory.Profile) []string {
	external := make([]string, 0)
	for _, id := range candidates {
		profile := profiles[id]
		if profile.IsClient {
			external = append(external, id)
			continue
		}
		if homeDepartment != "" && profile.Department != homeDepartment {
			external = append(external, id)
		}
	}
	return external
}

func uniqueMemberIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	return unique
}
