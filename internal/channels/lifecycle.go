package channels

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"go.uber.org/zap"
)

// ArchiveRequest identifies the actor archiving or unarchiving a channel.
// Elevated marks actors whose application role supersedes channel roles.
type ArchiveRequest struct {
	ChannelID   string
	RequesterID string
	Elevated    bool
}

// Archive marks a channel archived.
func (s *Service) Archive(ctx context.Context, req ArchiveRequest) (ChannelDetails, error) {
	return s.setArchived(ctx, opArchive, req, true)
}

// Unarchive reactivates an archived channel that still has members.
func (s *Service) Unarchive(ctx context.Context, req ArchiveRequest) (ChannelDetails, error) {
	return s.setArchived(ctx, opUnarchive, req, false)
}

func (s *Service) setArchived(ctx context.Context, operation string, req ArchiveRequest, archived bool) (ChannelDetails, error) {
	if err := requireIDs(req.ChannelID, req.RequesterID); err != nil {
		return ChannelDetails{}, s.reject(apperrors.KindValidation, operation, reasonInvalidInput, "channel and requester are required")
	}

	var (
		channel Channel
		role    Role
	)
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		var err error
		channel, err = s.lockChannel(ctx, tx, operation, req.ChannelID)
		if err != nil {
			return err
		}
		role, err = tx.FindMemberRole(ctx, req.ChannelID, req.RequesterID)
		if err != nil && !errors.Is(err, ErrMemberNotFound) {
			return s.internal(operation, reasonStoreFailed, err, zap.String("channel_id", req.ChannelID))
		}
		allowed := req.Elevated || channel.CreatedBy == req.RequesterID || role.CanManage()
		if !allowed {
			return s.reject(apperrors.KindForbidden, operation, "not_permitted", "only the creator or channel admins can change archival")
		}
		if channel.IsArchived == archived {
			if archived {
				return s.reject(apperrors.KindConflict, operation, "already_archived", "channel is already archived")
			}
			return s.reject(apperrors.KindConflict, operation, "not_archived", "channel is not archived")
		}
		if !archived && channel.MemberCount == 0 {
			return s.reject(apperrors.KindConflict, operation, "channel_empty", "an empty channel cannot be unarchived")
		}

		now := s.now()
		fields := map[string]interface{}{
			"is_archived":        archived,
			"archived_at":        nil,
			"archived_by":        "",
			columnChannelUpdated: now,
		}
		channel.IsArchived = archived
		channel.ArchivedAt = nil
		channel.ArchivedBy = ""
		if archived {
			fields["archived_at"] = now
			fields["archived_by"] = req.RequesterID
			channel.ArchivedAt = &now
			channel.ArchivedBy = req.RequesterID
		}
		channel.UpdatedAt = now
		if err := tx.UpdateChannelFields(ctx, req.ChannelID, fields); err != nil {
			return s.internal(operation, "archive_update_failed", err, zap.String("channel_id", req.ChannelID))
		}
		return nil
	})
	if txErr != nil {
		return ChannelDetails{}, txErr
	}

	s.logger.Info("channel archival changed",
		zap.String("channel_id", channel.ID),
		zap.Bool("is_archived", archived),
		zap.String("changed_by", req.RequesterID))
	s.notifier.Publish(broadcast.ToChannel(channel.ID), broadcast.ChannelArchived{
		ChannelID:  channel.ID,
		IsArchived: channel.IsArchived,
		ArchivedAt: channel.ArchivedAt,
		ArchivedBy: channel.ArchivedBy,
		ChangedBy:  req.RequesterID,
	})

	details := detailsFor(channel)
	details.MyRole = role
	return details, nil
}

// UpdateSettings applies a partial settings update on a non-dm channel.
func (s *Service) UpdateSettings(ctx context.Context, channelID, requesterID string, patch SettingsPatch) (SettingsView, error) {
	if err := requireIDs(channelID, requesterID); err != nil {
		return SettingsView{}, s.reject(apperrors.KindValidation, opUpdateSettings, reasonInvalidInput, "channel and requester are required")
	}
	if patch.Empty() {
		return SettingsView{}, s.reject(apperrors.KindValidation, opUpdateSettings, "empty_patch", "no settings to update")
	}

	var channel Channel
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		var err error
		channel, err = s.lockChannel(ctx, tx, opUpdateSettings, channelID)
		if err != nil {
			return err
		}
		if _, err := s.requireManager(ctx, tx, opUpdateSettings, channelID, requesterID); err != nil {
			return err
		}
		if channel.Type == ChannelTypeDirect {
			return s.reject(apperrors.KindValidation, opUpdateSettings, "dm_settings", "direct message channels have no settings")
		}
		fields := patch.columns()
		fields[columnChannelUpdated] = s.now()
		if err := tx.UpdateChannelFields(ctx, channelID, fields); err != nil {
			return s.internal(opUpdateSettings, "settings_update_failed", err, zap.String("channel_id", channelID))
		}
		channel, err = tx.FindByID(ctx, channelID)
		if err != nil {
			return s.internal(opUpdateSettings, reasonStoreFailed, err, zap.String("channel_id", channelID))
		}
		return nil
	})
	if txErr != nil {
		return SettingsView{}, txErr
	}

	settings := channel.Settings()
	s.notifier.Publish(broadcast.ToChannel(channelID), broadcast.SettingsUpdated{
		ChannelID: channelID,
		UpdatedBy: requesterID,
		Settings:  broadcastSettings(settings),
	})
	return SettingsView{Settings: settings, CanEdit: true}, nil
}
