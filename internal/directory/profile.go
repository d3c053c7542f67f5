package directory

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Profile is the display record of a CRM member.
type Profile struct {
	ID         string         `gorm:"column:member_id;primaryKey;size:190;not null" json:"id"`
	Name       string         `gorm:"column:name;size:320;not null;default:''" json:"name"`
	Email      string         `gorm:"column:email;size:320;not null;default:''" json:"email"`
	Avatar     string         `gorm:"column:avatar_url;size:512;not null;default:''" json:"avatar"`
	Role       string         `gorm:"column:role;size:64;not null;default:''" json:"role"`
	Department string         `gorm:"column:department_id;size:190;not null;default:'';index" json:"department"`
	IsClient   bool           `gorm:"column:is_client;not null;default:false" json:"isClient"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"-"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName exposes the table backing member profiles.
func (Profile) TableName() string {
	return "member_profiles"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
