package operations

import (
	"time"

	"gorm.io/datatypes"
)

// Type names a task-board interaction.
type Type string

const (
	TypeDragDrop     Type = "drag_drop"
	TypeAssignment   Type = "assignment"
	TypeStatusChange Type = "status_change"
	TypeCreation     Type = "creation"
	TypeDeletion     Type = "deletion"
)

// Status is the broadcast delivery state of a recorded operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// TaskOperation is one audited task-board operation.
type TaskOperation struct {
	ID                string         `gorm:"column:operation_id;primaryKey;size:36;not null" json:"id"`
	Type              Type           `gorm:"column:operation_type;size:32;not null;index" json:"type"`
	Category          string         `gorm:"column:category;size:64;not null;default:''" json:"category,omitempty"`
	ActorID           string         `gorm:"column:actor_id;size:190;not null" json:"actorId"`
	ActorName         string         `gorm:"column:actor_name;size:320;not null;default:''" json:"actorName,omitempty"`
	TaskID            string         `gorm:"column:task_id;size:190;not null;index:idx_task_operations_task,priority:1" json:"taskId"`
	ProjectID         string         `gorm:"column:project_id;size:190;not null;index:idx_task_operations_project,priority:1" json:"projectId"`
	DepartmentID      string         `gorm:"column:department_id;size:190;not null;default:''" json:"departmentId,omitempty"`
	PreviousState     datatypes.JSON `gorm:"column:previous_state" json:"previousState,omitempty"`
	NewState          datatypes.JSON `gorm:"column:new_state" json:"newState,omitempty"`
	Metadata          datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	BroadcastStatus   Status         `gorm:"column:broadcast_status;size:16;not null;index" json:"broadcastStatus"`
	BroadcastError    string         `gorm:"column:broadcast_error;type:text;not null;default:''" json:"broadcastError,omitempty"`
	BroadcastAttempts int            `gorm:"column:broadcast_attempts;not null;default:0" json:"broadcastAttempts"`
	BroadcastAt       *time.Time     `gorm:"column:broadcast_at" json:"broadcastAt,omitempty"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null;index;index:idx_task_operations_task,priority:2;index:idx_task_operations_project,priority:2" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (TaskOperation) TableName() string {
	return "task_operations"
}

// TaskReference is the read-only projection of a task maintained by the CRM.
type TaskReference struct {
	TaskID     string `gorm:"column:task_id;primaryKey;size:190;not null"`
	Title      string `gorm:"column:title;size:320;not null;default:''"`
	ProjectID  string `gorm:"column:project_id;size:190;not null;index"`
	AssigneeID string `gorm:"column:assignee_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (TaskReference) TableName() string {
	return "task_references"
}

// ProjectReference is the read-only projection of a project.
type ProjectReference struct {
	ProjectID    string `gorm:"column:project_id;primaryKey;size:190;not null"`
	Name         string `gorm:"column:name;size:320;not null;default:''"`
	DepartmentID string `gorm:"column:department_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ProjectReference) TableName() string {
	return "project_references"
}

// ProjectStakeholder links a member to a project they follow.
type ProjectStakeholder struct {
	ProjectID string `gorm:"column:project_id;primaryKey;size:190;not null"`
	MemberID  string `gorm:"column:member_id;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (ProjectStakeholder) TableName() string {
	return "project_stakeholders"
}
