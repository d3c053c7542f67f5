package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
)

func (s testServer) seedBoard(t *testing.T) {
	t.Helper()
	records := []interface{}{
		&operations.ProjectReference{ProjectID: "p1", Name: "Website relaunch"},
		&operations.TaskReference{TaskID: "t1", Title: "Draft copy", ProjectID: "p1"},
		&operations.ProjectStakeholder{ProjectID: "p1", MemberID: "u2"},
	}
	for _, record := range records {
		if err := s.db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed board: %v", err)
		}
	}
}

func TestRecordAndQueryOperationsOverHTTP(t *testing.T) {
	server := newTestServer(t)
	server.seedProfiles(t, "u1", "u2")
	server.seedBoard(t)

	var recorded operations.TaskOperation
	decodeEnvelope(t, server.as(t, http.MethodPost, "/api/task-operations", "u1", map[string]any{
		"type":      "assignment",
		"actorId":   "someone-else",
		"taskId":    "t1",
		"projectId": "p1",
		"previous":  map[string]any{"assigneeId": ""},
		"next":      map[string]any{"assigneeId": "u2"},
	}), http.StatusCreated, &recorded)
	if recorded.ActorID != "u1" {
		t.Fatalf("expected the session user to be the actor, got %s", recorded.ActorID)
	}
	if recorded.BroadcastStatus != operations.StatusPending {
		t.Fatalf("expected a pending operation, got %s", recorded.BroadcastStatus)
	}
	server.operations.Wait()

	var page operations.QueryResult
	decodeEnvelope(t, server.as(t, http.MethodGet, "/api/task-operations?taskId=t1&limit=5", "u1", nil), http.StatusOK, &page)
	if page.Total != 1 || page.Limit != 5 || page.Operations[0].BroadcastStatus != operations.StatusSuccess {
		t.Fatalf("unexpected page %#v", page)
	}

	var stats operations.Stats
	decodeEnvelope(t, server.as(t, http.MethodGet, "/api/task-operations/stats?projectId=p1", "u1", nil), http.StatusOK, &stats)
	if stats.Total != 1 || len(stats.TopTypes) != 1 || stats.TopTypes[0].Type != operations.TypeAssignment {
		t.Fatalf("unexpected stats %#v", stats)
	}

	list, err := server.notifications.ListForRecipient(context.Background(), "u2", notifications.ListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list.Total != 1 || list.Notifications[0].Type != notifications.TypeTaskAssigned {
		t.Fatalf("expected the assignee to be notified, got %#v", list)
	}
}

func TestRecordOperationRejectsInvalidSnapshots(t *testing.T) {
	server := newTestServer(t)
	server.seedProfiles(t, "u1")

	decodeEnvelope(t, server.as(t, http.MethodPost, "/api/task-operations", "u1", map[string]any{
		"type":      "drag_drop",
		"taskId":    "t1",
		"projectId": "p1",
		"previous":  map[string]any{"phase": "todo"},
		"next":      map[string]any{"phase": "doing", "order": 1},
	}), http.StatusBadRequest, nil)
	decodeEnvelope(t, server.as(t, http.MethodGet, "/api/task-operations", "u1", nil), http.StatusBadRequest, nil)
}

func TestRetryRequiresElevatedRole(t *testing.T) {
	server := newTestServer(t)
	server.seedProfiles(t, "u1")

	decodeEnvelope(t, server.as(t, http.MethodPost, "/api/task-operations/retry", "u1", nil), http.StatusForbidden, nil)

	var result operations.RetryResult
	token := sessionToken(t, "u1", testElevatedRole)
	decodeEnvelope(t, server.request(t, http.MethodPost, "/api/task-operations/retry", token, nil), http.StatusOK, &result)
	if result.Attempted != 0 {
		t.Fatalf("expected nothing to retry, got %#v", result)
	}
}
