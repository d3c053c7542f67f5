package operations

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/cache"
	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type scriptedTransport struct {
	mu        sync.Mutex
	err       error
	delivered []string
}

func (s *scriptedTransport) PublishToUser(_ context.Context, userID string, event broadcast.Event) error {
	return s.record(broadcast.UserStream(userID))
}

func (s *scriptedTransport) PublishToChannel(_ context.Context, channelID string, event broadcast.Event) error {
	return s.record(broadcast.ChannelStream(channelID))
}

func (s *scriptedTransport) record(stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, stream)
	return nil
}

func (s *scriptedTransport) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedTransport) streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	streams := append([]string(nil), s.delivered...)
	sort.Strings(streams)
	return streams
}

type recordingCreator struct {
	mu       sync.Mutex
	requests []notifications.CreateRequest
}

func (c *recordingCreator) Create(_ context.Context, req notifications.CreateRequest) (notifications.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return notifications.Notification{ID: "n-1", RecipientID: req.RecipientID}, nil
}

type staticRooms map[string][]string

func (r staticRooms) ChannelIDsForProject(_ context.Context, projectID string) ([]string, error) {
	return r[projectID], nil
}

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (g *counterIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("op-%03d", g.next), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	service   *Service
	db        *gorm.DB
	transport *scriptedTransport
	creator   *recordingCreator
	clock     *testClock
}

func newTestEnv(t *testing.T, store cache.Cache) testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "operations.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&TaskOperation{}, &TaskReference{}, &ProjectReference{}, &ProjectStakeholder{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	transport := &scriptedTransport{}
	creator := &recordingCreator{}
	clock := &testClock{now: time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:      db,
		Transport:     transport,
		Notifications: creator,
		Rooms:         staticRooms{"p1": {"room-p1"}},
		Cache:         store,
		Clock:         clock.Now,
		IDProvider:    &counterIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct operations service: %v", err)
	}
	return testEnv{service: service, db: db, transport: transport, creator: creator, clock: clock}
}

func (e testEnv) seedBoard(t *testing.T) {
	t.Helper()
	records := []interface{}{
		&ProjectReference{ProjectID: "p1", Name: "Website relaunch", DepartmentID: "marketing"},
		&TaskReference{TaskID: "t1", Title: "Draft copy", ProjectID: "p1", AssigneeID: "u3"},
		&[]ProjectStakeholder{{ProjectID: "p1", MemberID: "u1"}, {ProjectID: "p1", MemberID: "u2"}},
	}
	for _, record := range records {
		if err := e.db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed board: %v", err)
		}
	}
}

func (e testEnv) record(t *testing.T, req RecordRequest) TaskOperation {
	t.Helper()
	operation, err := e.service.Record(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to record operation: %v", err)
	}
	e.service.Wait()
	return operation
}

func (e testEnv) load(t *testing.T, id string) TaskOperation {
	t.Helper()
	var operation TaskOperation
	if err := e.db.Where("operation_id = ?", id).Take(&operation).Error; err != nil {
		t.Fatalf("failed to load operation %s: %v", id, err)
	}
	return operation
}

func dragDrop(taskID, projectID string) RecordRequest {
	return RecordRequest{
		Type:      TypeDragDrop,
		ActorID:   "u4",
		ActorName: "Dee",
		TaskID:    taskID,
		ProjectID: projectID,
		Previous:  []byte(`{"phase":"todo","order":1}`),
		Next:      []byte(`{"phase":"doing","order":0}`),
	}
}
