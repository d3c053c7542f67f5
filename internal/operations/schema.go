package operations

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// RecordRequest is an operation reported by the task board.
type RecordRequest struct {
	Type         Type            `json:"type" validate:"required,oneof=drag_drop assignment status_change creation deletion"`
	Category     string          `json:"category" validate:"max=64"`
	ActorID      string          `json:"actorId" validate:"required,max=190"`
	ActorName    string          `json:"actorName" validate:"max=320"`
	TaskID       string          `json:"taskId" validate:"required,max=190"`
	ProjectID    string          `json:"projectId" validate:"required,max=190"`
	DepartmentID string          `json:"departmentId" validate:"max=190"`
	Previous     json.RawMessage `json:"previous"`
	Next         json.RawMessage `json:"next"`
	Metadata     map[string]any  `json:"metadata"`
}

// DragDropState is the board position of a task.
type DragDropState struct {
	Phase string `json:"phase" validate:"required"`
	Order *int   `json:"order" validate:"required,min=0"`
}

// AssignmentState names the assignee; an empty id means unassigned.
type AssignmentState struct {
	AssigneeID *string `json:"assigneeId" validate:"required"`
}

// StatusState is a task status.
type StatusState struct {
	Status string `json:"status" validate:"required"`
}

// stateSchema returns a fresh value of the snapshot type for t, or nil when
// the type carries free-form snapshots.
func stateSchema(t Type) func() any {
	switch t {
	case TypeDragDrop:
		return func() any { return &DragDropState{} }
	case TypeAssignment:
		return func() any { return &AssignmentState{} }
	case TypeStatusChange:
		return func() any { return &StatusState{} }
	default:
		return nil
	}
}

func validateRecord(validate *validator.Validate, req RecordRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	schema := stateSchema(req.Type)
	if schema == nil {
		return nil
	}
	for _, snapshot := range []struct {
		name string
		raw  json.RawMessage
	}{
		{name: "previous", raw: req.Previous},
		{name: "next", raw: req.Next},
	} {
		if len(bytes.TrimSpace(snapshot.raw)) == 0 {
			return fmt.Errorf("%s state is required for %s", snapshot.name, req.Type)
		}
		state := schema()
		if err := json.Unmarshal(snapshot.raw, state); err != nil {
			return fmt.Errorf("%s state: %w", snapshot.name, err)
		}
		if err := validate.Struct(state); err != nil {
			return fmt.Errorf("%s state: %w", snapshot.name, err)
		}
	}
	return nil
}

// assigneeOf extracts the assignee from an assignment snapshot.
func assigneeOf(raw json.RawMessage) string {
	var state AssignmentState
	if err := json.Unmarshal(raw, &state); err != nil || state.AssigneeID == nil {
		return ""
	}
	return *state.AssigneeID
}
