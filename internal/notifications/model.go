package notifications

import "time"

const (
	TypeTaskAssigned = "task_assigned"

	CategoryTask = "task"

	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Notification is a persisted system notification addressed to one member.
type Notification struct {
	ID           string     `gorm:"column:notification_id;primaryKey;size:36;not null" json:"id"`
	Type         string     `gorm:"column:notification_type;size:64;not null" json:"type"`
	Category     string     `gorm:"column:category;size:64;not null;default:''" json:"category,omitempty"`
	RecipientID  string     `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient,priority:1" json:"recipientId"`
	SenderID     string     `gorm:"column:sender_id;size:190;not null;default:''" json:"senderId,omitempty"`
	SenderName   string     `gorm:"column:sender_name;size:320;not null;default:''" json:"senderName,omitempty"`
	SenderAvatar string     `gorm:"column:sender_avatar;size:512;not null;default:''" json:"senderAvatar,omitempty"`
	Title        string     `gorm:"column:title;size:200;not null" json:"title"`
	Message      string     `gorm:"column:message;type:text;not null;default:''" json:"message"`
	Preview      string     `gorm:"column:preview;size:280;not null;default:''" json:"preview,omitempty"`
	EntityType   string     `gorm:"column:entity_type;size:64;not null;default:''" json:"entityType,omitempty"`
	EntityID     string     `gorm:"column:entity_id;size:190;not null;default:''" json:"entityId,omitempty"`
	EntityName   string     `gorm:"column:entity_name;size:320;not null;default:''" json:"entityName,omitempty"`
	ActionType   string     `gorm:"column:action_type;size:64;not null;default:''" json:"actionType,omitempty"`
	ActionURL    string     `gorm:"column:action_url;size:512;not null;default:''" json:"actionUrl,omitempty"`
	Priority     int        `gorm:"column:priority;not null" json:"priority"`
	IsRead       bool       `gorm:"column:is_read;not null;default:false;index:idx_notifications_recipient,priority:2" json:"isRead"`
	ReadAt       *time.Time `gorm:"column:read_at" json:"readAt,omitempty"`
	ExpiresAt    *time.Time `gorm:"column:expires_at;index" json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;index:idx_notifications_recipient,priority:3" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "system_notifications"
}
