package channels

import (
	"context"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"go.uber.org/zap"
)

// TogglePin flips the user's pin on a channel. Pinning is refused once the
// user already has the configured maximum of pinned channels.
func (s *Service) TogglePin(ctx context.Context, channelID, userID string) (PinResult, error) {
	if err := requireIDs(channelID, userID); err != nil {
		return PinResult{}, s.reject(apperrors.KindValidation, opTogglePin, reasonInvalidInput, "channel and user are required")
	}

	result := PinResult{ChannelID: channelID}
	txErr := s.store.Transaction(ctx, func(tx *Store) error {
		memberships, err := tx.LockMemberships(ctx, userID)
		if err != nil {
			return s.internal(opTogglePin, reasonStoreFailed, err, zap.String("member_id", userID))
		}
		var (
			target *ChannelMember
			pinned int
		)
		for i := range memberships {
			if memberships[i].IsPinned {
				pinned++
			}
			if memberships[i].ChannelID == channelID {
				target = &memberships[i]
			}
		}
		if target == nil {
			return s.reject(apperrors.KindNotFound, opTogglePin, "not_a_member", "you are not a member of this channel")
		}

		fields := map[string]interface{}{"is_pinned": false, "pinned_at": nil}
		if !target.IsPinned {
			if pinned >= s.maxPinned {
				return s.reject(apperrors.KindValidation, opTogglePin, "pin_limit_reached", "pinned channel limit reached").
					WithDetails(map[string]any{"limit": s.maxPinned})
			}
			now := s.now()
			fields["is_pinned"] = true
			fields["pinned_at"] = now
			result.IsPinned = true
			result.PinnedAt = &now
		}
		if err := tx.UpdateMemberFields(ctx, channelID, userID, fields); err != nil {
			return s.internal(opTogglePin, "pin_update_failed", err, zap.String("channel_id", channelID))
		}
		return nil
	})
	if txErr != nil {
		return PinResult{}, txErr
	}

	s.notifier.Publish(broadcast.ToUser(userID), broadcast.PinChanged{
		ChannelID: channelID,
		IsPinned:  result.IsPinned,
		PinnedAt:  result.PinnedAt,
	})
	return result, nil
}
