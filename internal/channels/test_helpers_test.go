package channels

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/apperrors"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]directory.Profile
	err      error
}

func newFakeDirectory(profiles ...directory.Profile) *fakeDirectory {
	index := make(map[string]directory.Profile, len(profiles))
	for _, profile := range profiles {
		index[profile.ID] = profile
	}
	return &fakeDirectory{profiles: index}
}

func (d *fakeDirectory) ResolveMembers(_ context.Context, ids []string) ([]directory.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	resolved := make([]directory.Profile, 0, len(ids))
	for _, id := range ids {
		if profile, ok := d.profiles[id]; ok {
			resolved = append(resolved, profile)
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved, nil
}

type published struct {
	stream string
	event  broadcast.Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(destination broadcast.Destination, event broadcast.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{stream: destination.Stream(), event: event})
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

func (n *recordingNotifier) on(stream string) []broadcast.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []broadcast.Event
	for _, entry := range n.events {
		if entry.stream == stream {
			events = append(events, entry.event)
		}
	}
	return events
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type sequenceIDs struct {
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("channel-%d", g.next), nil
}

// steppingClock advances one second per reading so successive joins order.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type testEnv struct {
	service   *Service
	db        *gorm.DB
	directory *fakeDirectory
	notifier  *recordingNotifier
}

func newTestEnv(t *testing.T, profiles ...directory.Profile) testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "channels.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Channel{}, &ChannelMember{}, &operations.ProjectReference{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	fake := newFakeDirectory(profiles...)
	notifier := &recordingNotifier{}
	clock := &steppingClock{current: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Directory:  fake,
		Notifier:   notifier,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("failed to construct channels service: %v", err)
	}
	return testEnv{service: service, db: db, directory: fake, notifier: notifier}
}

func profile(id, department string) directory.Profile {
	return directory.Profile{
		ID:         id,
		Name:       "Name " + id,
		Email:      id + "@example.com",
		Department: department,
	}
}

func (e testEnv) mustCreateChannel(t *testing.T, req CreateChannelRequest) Channel {
	t.Helper()
	if req.Name == "" {
		req.Name = "general"
	}
	if req.Type == "" {
		req.Type = ChannelTypeGroup
	}
	channel, err := e.service.CreateChannel(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to create channel: %v", err)
	}
	return channel
}

func (e testEnv) mustAdd(t *testing.T, channelID, requesterID string, role Role, memberIDs ...string) []MemberView {
	t.Helper()
	views, err := e.service.AddMembers(context.Background(), AddMembersRequest{
		ChannelID:   channelID,
		RequesterID: requesterID,
		MemberIDs:   memberIDs,
		Role:        role,
	})
	if err != nil {
		t.Fatalf("failed to add members %v: %v", memberIDs, err)
	}
	return views
}

func (e testEnv) loadChannel(t *testing.T, channelID string) Channel {
	t.Helper()
	var channel Channel
	if err := e.db.Where("channel_id = ?", channelID).Take(&channel).Error; err != nil {
		t.Fatalf("failed to load channel: %v", err)
	}
	return channel
}

func (e testEnv) roles(t *testing.T, channelID string) map[string]Role {
	t.Helper()
	var rows []ChannelMember
	if err := e.db.Where("channel_id = ?", channelID).Find(&rows).Error; err != nil {
		t.Fatalf("failed to load members: %v", err)
	}
	roles := make(map[string]Role, len(rows))
	for _, row := range rows {
		roles[row.MemberID] = row.Role
	}
	return roles
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var classified *apperrors.Error
	if !errors.As(err, &classified) {
		t.Fatalf("expected classified error, got %T: %v", err, err)
	}
	if classified.Kind() != kind {
		t.Fatalf("expected %s error, got %s (%s)", kind, classified.Kind(), classified.Code())
	}
}
