package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestRedisTransportRelaysIntoDispatcher(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dispatcher := NewDispatcher()
	relay := NewRedisRelay(client, "", dispatcher, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx, ready)
	}()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe in time")
	}

	subscription := dispatcher.Subscribe(ctx, ChannelStream("c-42"))
	transport := NewRedisTransport(client, "", nil)
	event := RoleChanged{ChannelID: "c-42", MemberID: "user-7", PreviousRole: "member", Role: "admin", ChangedBy: "user-1"}
	if err := transport.PublishToChannel(ctx, "c-42", event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case message := <-subscription.Messages():
		if message.Event != EventRoleChanged {
			t.Fatalf("unexpected event %s", message.Event)
		}
		var payload RoleChanged
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if payload != event {
			t.Fatalf("unexpected payload: %#v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected relayed message")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relay returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}

func TestRedisTransportReportsFailures(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	server.Close()

	transport := NewRedisTransport(client, "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := transport.PublishToUser(ctx, "user-1", PinChanged{ChannelID: "c-1"}); err == nil {
		t.Fatalf("expected publish error when redis is unavailable")
	}
}
