package broadcast

import (
	"encoding/json"
	"time"
)

// Event names carried on the wire.
const (
	EventMemberAdded         = "channel:member-added"
	EventMembersAdded        = "channel:members-added"
	EventMemberRemoved       = "channel:member-removed"
	EventMemberLeft          = "channel:member-left"
	EventRoleChanged         = "channel:role-changed"
	EventPinChanged          = "channel:pin-changed"
	EventSettingsUpdated     = "channel:settings-updated"
	EventChannelArchived     = "channel:archive-changed"
	EventNotificationCreated = "notification:created"
	EventTaskOperation       = "task:operation"
	EventHeartbeat           = "heartbeat"
)

// Event is the closed set of payloads that may be broadcast. Each variant has
// a fixed shape and a single event name.
type Event interface {
	EventName() string
	isEvent()
}

// MemberSummary is the profile snapshot carried by membership events.
type MemberSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role"`
}

// MemberAdded tells a user they were added to a channel.
type MemberAdded struct {
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	ChannelType string    `json:"channelType"`
	Role        string    `json:"role"`
	AddedBy     string    `json:"addedBy"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// MembersAdded tells a channel room about a batch of new members.
type MembersAdded struct {
	ChannelID   string          `json:"channelId"`
	AddedBy     string          `json:"addedBy"`
	Members     []MemberSummary `json:"members"`
	MemberCount int             `json:"memberCount"`
}

// MemberRemoved tells a user they were removed from a channel.
type MemberRemoved struct {
	ChannelID string `json:"channelId"`
	RemovedBy string `json:"removedBy"`
}

// MemberLeft tells a channel room a member is gone. RemovedBy is empty when
// the member left voluntarily.
type MemberLeft struct {
	ChannelID        string `json:"channelId"`
	MemberID         string `json:"memberId"`
	RemovedBy        string `json:"removedBy,omitempty"`
	PromotedMemberID string `json:"promotedMemberId,omitempty"`
	MemberCount      int    `json:"memberCount"`
}

// RoleChanged reports a role transition.
type RoleChanged struct {
	ChannelID    string `json:"channelId"`
	MemberID     string `json:"memberId"`
	PreviousRole string `json:"previousRole"`
	Role         string `json:"role"`
	ChangedBy    string `json:"changedBy"`
}

// PinChanged is sent to the acting user only.
type PinChanged struct {
	ChannelID string     `json:"channelId"`
	IsPinned  bool       `json:"isPinned"`
	PinnedAt  *time.Time `json:"pinnedAt,omitempty"`
}

// ChannelSettings mirrors the per-channel flags.
type ChannelSettings struct {
	AutoSyncEnabled      bool `json:"autoSyncEnabled"`
	AllowExternalMembers bool `json:"allowExternalMembers"`
	AdminOnlyPost        bool `json:"adminOnlyPost"`
	AdminOnlyAdd         bool `json:"adminOnlyAdd"`
}

// SettingsUpdated carries the full settings after a partial update.
type SettingsUpdated struct {
	ChannelID string          `json:"channelId"`
	UpdatedBy string          `json:"updatedBy"`
	Settings  ChannelSettings `json:"settings"`
}

// ChannelArchived carries the archival state after archive or unarchive.
type ChannelArchived struct {
	ChannelID  string     `json:"channelId"`
	IsArchived bool       `json:"isArchived"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
	ArchivedBy string     `json:"archivedBy,omitempty"`
	ChangedBy  string     `json:"changedBy"`
}

// NotificationCreated tells a recipient a notification is waiting.
type NotificationCreated struct {
	NotificationID string    `json:"notificationId"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Priority       int       `json:"priority"`
	EntityType     string    `json:"entityType,omitempty"`
	EntityID       string    `json:"entityId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TaskOperationEvent reports an audited task-board operation.
type TaskOperationEvent struct {
	OperationID string          `json:"operationId"`
	Type        string          `json:"type"`
	TaskID      string          `json:"taskId"`
	TaskTitle   string          `json:"taskTitle"`
	ProjectID   string          `json:"projectId"`
	ProjectName string          `json:"projectName"`
	ActorID     string          `json:"actorId"`
	ActorName   string          `json:"actorName"`
	Previous    json.RawMessage `json:"previous,omitempty"`
	Next        json.RawMessage `json:"next,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

func (MemberAdded) EventName() string         { return EventMemberAdded }
func (MembersAdded) EventName() string        { return EventMembersAdded }
func (MemberRemoved) EventName() string       { return EventMemberRemoved }
func (MemberLeft) EventName() string          { return EventMemberLeft }
func (RoleChanged) EventName() string         { return EventRoleChanged }
func (PinChanged) EventName() string          { return EventPinChanged }
func (SettingsUpdated) EventName() string     { return EventSettingsUpdated }
func (ChannelArchived) EventName() string     { return EventChannelArchived }
func (NotificationCreated) EventName() string { return EventNotificationCreated }
func (TaskOperationEvent) EventName() string  { return EventTaskOperation }

func (MemberAdded) isEvent()         {}
func (MembersAdded) isEvent()        {}
func (MemberRemoved) isEvent()       {}
func (MemberLeft) isEvent()          {}
func (RoleChanged) isEvent()         {}
func (PinChanged) isEvent()          {}
func (SettingsUpdated) isEvent()     {}
func (ChannelArchived) isEvent()     {}
func (NotificationCreated) isEvent() {}
func (TaskOperationEvent) isEvent()  {}
