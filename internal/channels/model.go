package channels

import (
	"time"
)

// ChannelType enumerates the kinds of channel the CRM creates.
type ChannelType string

const (
	ChannelTypeDirect        ChannelType = "dm"
	ChannelTypeProject       ChannelType = "project"
	ChannelTypeClientSupport ChannelType = "client-support"
	ChannelTypeGroup         ChannelType = "group"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeDirect, ChannelTypeProject, ChannelTypeClientSupport, ChannelTypeGroup:
		return true
	default:
		return false
	}
}

// Role is a member's role inside one channel.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanManage reports whether the role may administer the channel.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Assignable reports whether the role may be granted through the API.
// Ownership is fixed at channel creation.
func (r Role) Assignable() bool {
	return r == RoleAdmin || r == RoleMember
}

const (
	AddedViaManualAdd     = "manual_add"
	AddedViaChannelCreate = "channel_create"
)

// Channel is a persisted channel with denormalized member count.
type Channel struct {
	ID                   string      `gorm:"column:channel_id;primaryKey;size:36;not null"`
	Name                 string      `gorm:"column:name;size:190;not null"`
	Type                 ChannelType `gorm:"column:channel_type;size:32;not null;index"`
	CreatedBy            string      `gorm:"column:created_by;size:190;not null"`
	IsPrivate            bool        `gorm:"column:is_private;not null;default:false"`
	DepartmentID         string      `gorm:"column:department_id;size:190;not null;default:''"`
	ProjectID            string      `gorm:"column:project_id;size:190;not null;default:'';index"`
	MemberCount          int         `gorm:"column:member_count;not null;default:0"`
	IsArchived           bool        `gorm:"column:is_archived;not null;default:false"`
	ArchivedAt           *time.Time  `gorm:"column:archived_at"`
	ArchivedBy           string      `gorm:"column:archived_by;size:190;not null;default:''"`
	AutoSyncEnabled      bool        `gorm:"column:auto_sync_enabled;not null;default:false"`
	AllowExternalMembers bool        `gorm:"column:allow_external_members;not null;default:false"`
	AdminOnlyPost        bool        `gorm:"column:admin_only_post;not null;default:false"`
	AdminOnlyAdd         bool        `gorm:"column:admin_only_add;not null;default:false"`
	CreatedAt            time.Time   `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time   `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "channels"
}

// Settings returns the channel's settings flags.
func (c Channel) Settings() Settings {
	return Settings{
		AutoSyncEnabled:      c.AutoSyncEnabled,
		AllowExternalMembers: c.AllowExternalMembers,
		AdminOnlyPost:        c.AdminOnlyPost,
		AdminOnlyAdd:         c.AdminOnlyAdd,
	}
}

// Scoped reports whether the channel belongs to a department or project.
func (c Channel) Scoped() bool {
	return c.DepartmentID != "" || c.ProjectID != ""
}

// ChannelMember is the single membership row for a (channel, member) pair.
type ChannelMember struct {
	ChannelID string     `gorm:"column:channel_id;primaryKey;size:36;not null;index:idx_channel_members_joined,priority:1"`
	MemberID  string     `gorm:"column:member_id;primaryKey;size:190;not null;index:idx_channel_members_pinned,priority:1"`
	Role      Role       `gorm:"column:role;size:16;not null"`
	JoinedAt  time.Time  `gorm:"column:joined_at;not null;index:idx_channel_members_joined,priority:2"`
	AddedBy   string     `gorm:"column:added_by;size:190;not null;default:''"`
	AddedVia  string     `gorm:"column:added_via;size:32;not null;default:''"`
	IsPinned  bool       `gorm:"column:is_pinned;not null;default:false;index:idx_channel_members_pinned,priority:2"`
	PinnedAt  *time.Time `gorm:"column:pinned_at"`
}

// TableName provides the explicit table binding for GORM.
func (ChannelMember) TableName() string {
	return "channel_members"
}

// Settings holds the per-channel flags.
type Settings struct {
	AutoSyncEnabled      bool `json:"autoSyncEnabled"`
	AllowExternalMembers bool `json:"allowExternalMembers"`
	AdminOnlyPost        bool `json:"adminOnlyPost"`
	AdminOnlyAdd         bool `json:"adminOnlyAdd"`
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	AutoSyncEnabled      *bool `json:"autoSyncEnabled"`
	AllowExternalMembers *bool `json:"allowExternalMembers"`
	AdminOnlyPost        *bool `json:"adminOnlyPost"`
	AdminOnlyAdd         *bool `json:"adminOnlyAdd"`
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.AutoSyncEnabled == nil && p.AllowExternalMembers == nil && p.AdminOnlyPost == nil && p.AdminOnlyAdd == nil
}

func (p SettingsPatch) columns() map[string]interface{} {
	columns := map[string]interface{}{}
	if p.AutoSyncEnabled != nil {
		columns["auto_sync_enabled"] = *p.AutoSyncEnabled
	}
	if p.AllowExternalMembers != nil {
		columns["allow_external_members"] = *p.AllowExternalMembers
	}
	if p.AdminOnlyPost != nil {
		columns["admin_only_post"] = *p.AdminOnlyPost
	}
	if p.AdminOnlyAdd != nil {
		columns["admin_only_add"] = *p.AdminOnlyAdd
	}
	return columns
}
