package channels

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"go.uber.org/zap"
)

// MemberView is a membership row joined with profile data. Email and the
// add-audit fields are only filled in for admin and owner viewers.
type MemberView struct {
	MemberID   string    `json:"memberId"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Avatar     string    `json:"avatar,omitempty"`
	Department string    `json:"department,omitempty"`
	IsClient   bool      `json:"isClient"`
	Role       Role      `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
	AddedBy    string    `json:"addedBy,omitempty"`
	AddedVia   string    `json:"addedVia,omitempty"`
}

// ChannelDetails is the read model returned to a viewer.
type ChannelDetails struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         ChannelType `json:"type"`
	IsPrivate    bool        `json:"isPrivate"`
	DepartmentID string      `json:"departmentId,omitempty"`
	ProjectID    string      `json:"projectId,omitempty"`
	CreatedBy    string      `json:"createdBy"`
	CreatedAt    time.Time   `json:"createdAt"`
	MemberCount  int         `json:"memberCount"`
	IsArchived   bool        `json:"isArchived"`
	ArchivedAt   *time.Time  `json:"archivedAt,omitempty"`
	ArchivedBy   string      `json:"archivedBy,omitempty"`
	MyRole       Role        `json:"myRole,omitempty"`
	IsPinned     bool        `json:"isPinned"`
	Settings     *Settings   `json:"settings,omitempty"`
}

// SettingsView pairs settings with whether the viewer may change them.
type SettingsView struct {
	Settings
	CanEdit bool `json:"canEdit"`
}

// LeaveResult describes the outcome of LeaveChannel.
type LeaveResult struct {
	ChannelID        string `json:"channelId"`
	Archived         bool   `json:"archived"`
	PromotedMemberID string `json:"promotedMemberId,omitempty"`
	RemainingMembers int    `json:"remainingMembers"`
}

// PinResult reports the pin state after TogglePin.
type PinResult struct {
	ChannelID string     `json:"channelId"`
	IsPinned  bool       `json:"isPinned"`
	PinnedAt  *time.Time `json:"pinnedAt,omitempty"`
}

// enrich joins membership rows with directory profiles. Profile lookup runs
// after commit; a directory failure degrades to identifier-only views.
func (s *Service) enrich(ctx context.Context, rows []ChannelMember, viewerRole Role) []MemberView {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.MemberID)
	}
	profiles := map[string]directory.Profile{}
	if len(ids) > 0 {
		resolved, err := s.directory.ResolveMembers(ctx, ids)
		if err != nil {
			s.logger.Warn("member enrichment failed", zap.Error(err), zap.Int("members", len(ids)))
		}
		for _, profile := range resolved {
			profiles[profile.ID] = profile
		}
	}

	privileged := viewerRole.CanManage()
	views := make([]MemberView, 0, len(rows))
	for _, row := range rows {
		profile := profiles[row.MemberID]
		view := MemberView{
			MemberID:   row.MemberID,
			Name:       profile.Name,
			Avatar:     profile.Avatar,
			Department: profile.Department,
			IsClient:   profile.IsClient,
			Role:       row.Role,
			JoinedAt:   row.JoinedAt,
		}
		if privileged {
			view.Email = profile.Email
			view.AddedBy = row.AddedBy
			view.AddedVia = row.AddedVia
		}
		views = append(views, view)
	}
	return views
}

func memberSummaries(views []MemberView, include map[string]struct{}) []broadcast.MemberSummary {
	summaries := make([]broadcast.MemberSummary, 0, len(include))
	for _, view := range views {
		if _, ok := include[view.MemberID]; !ok {
			continue
		}
		summaries = append(summaries, broadcast.MemberSummary{
			ID:     view.MemberID,
			Name:   view.Name,
			Avatar: view.Avatar,
			Role:   string(view.Role),
		})
	}
	return summaries
}

func detailsFor(channel Channel) ChannelDetails {
	return ChannelDetails{
		ID:           channel.ID,
		Name:         channel.Name,
		Type:         channel.Type,
		IsPrivate:    channel.IsPrivate,
		DepartmentID: channel.DepartmentID,
		ProjectID:    channel.ProjectID,
		CreatedBy:    channel.CreatedBy,
		CreatedAt:    channel.CreatedAt,
		MemberCount:  channel.MemberCount,
		IsArchived:   channel.IsArchived,
		ArchivedAt:   channel.ArchivedAt,
		ArchivedBy:   channel.ArchivedBy,
	}
}

func broadcastSettings(settings Settings) broadcast.ChannelSettings {
	return broadcast.ChannelSettings{
		AutoSyncEnabled:      settings.AutoSyncEnabled,
		AllowExternalMembers: settings.AllowExternalMembers,
		AdminOnlyPost:        settings.AdminOnlyPost,
		AdminOnlyAdd:         settings.AdminOnlyAdd,
	}
}
