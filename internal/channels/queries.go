package channels

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"go.uber.org/zap"
)

// GetChannelDetails returns the channel as seen by requesterID. Public
// channels are visible to non-members; private ones only to members.
func (s *Service) GetChannelDetails(ctx context.Context, channelID, requesterID string) (ChannelDetails, error) {
	if err := requireIDs(channelID, requesterID); err != nil {
		return ChannelDetails{}, s.reject(apperrors.KindValidation, opChannelDetails, reasonInvalidInput, "channel and requester are required")
	}
	channel, member, isMember, err := s.loadForViewer(ctx, opChannelDetails, channelID, requesterID)
	if err != nil {
		return ChannelDetails{}, err
	}
	if !isMember && channel.IsPrivate {
		return ChannelDetails{}, s.reject(apperrors.KindForbidden, opChannelDetails, reasonRequesterMissing, "you are not a member of this channel")
	}

	details := detailsFor(channel)
	if isMember {
		details.MyRole = member.Role
		details.IsPinned = member.IsPinned
		settings := channel.Settings()
		details.Settings = &settings
	}
	return details, nil
}

// GetChannelSettings returns the settings and whether the member may edit them.
func (s *Service) GetChannelSettings(ctx context.Context, channelID, requesterID string) (SettingsView, error) {
	if err := requireIDs(channelID, requesterID); err != nil {
		return SettingsView{}, s.reject(apperrors.KindValidation, opChannelSettings, reasonInvalidInput, "channel and requester are required")
	}
	channel, member, isMember, err := s.loadForViewer(ctx, opChannelSettings, channelID, requesterID)
	if err != nil {
		return SettingsView{}, err
	}
	if !isMember {
		return SettingsView{}, s.reject(apperrors.KindForbidden, opChannelSettings, reasonRequesterMissing, "you are not a member of this channel")
	}
	return SettingsView{
		Settings: channel.Settings(),
		CanEdit:  member.Role.CanManage() && channel.Type != ChannelTypeDirect,
	}, nil
}

// GetChannelMembers lists members in role, join order. Emails and add-audit
// fields are only included for admin and owner viewers.
func (s *Service) GetChannelMembers(ctx context.Context, channelID, requesterID string) ([]MemberView, error) {
	if err := requireIDs(channelID, requesterID); err != nil {
		return nil, s.reject(apperrors.KindValidation, opChannelMembers, reasonInvalidInput, "channel and requester are required")
	}
	_, member, isMember, err := s.loadForViewer(ctx, opChannelMembers, channelID, requesterID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, s.reject(apperrors.KindForbidden, opChannelMembers, reasonRequesterMissing, "you are not a member of this channel")
	}
	rows, err := s.store.ListMembers(ctx, channelID)
	if err != nil {
		return nil, s.internal(opChannelMembers, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	return s.enrich(ctx, rows, member.Role), nil
}

func (s *Service) loadForViewer(ctx context.Context, operation, channelID, requesterID string) (Channel, ChannelMember, bool, error) {
	channel, err := s.store.FindByID(ctx, channelID)
	if errors.Is(err, ErrChannelNotFound) {
		return Channel{}, ChannelMember{}, false, s.reject(apperrors.KindNotFound, operation, reasonChannelNotFound, "channel not found")
	}
	if err != nil {
		return Channel{}, ChannelMember{}, false, s.internal(operation, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	member, err := s.store.FindMember(ctx, channelID, requesterID)
	if errors.Is(err, ErrMemberNotFound) {
		return channel, ChannelMember{}, false, nil
	}
	if err != nil {
		return Channel{}, ChannelMember{}, false, s.internal(operation, reasonStoreFailed, err, zap.String("channel_id", channelID))
	}
	return channel, member, true, nil
}
