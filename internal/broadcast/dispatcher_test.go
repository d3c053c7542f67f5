package broadcast

import (
	"context"
	"testing"
	"time"
)

func mustMessage(t *testing.T, destination Destination, event Event) Message {
	t.Helper()
	message, err := NewMessage(destination, event, time.Now())
	if err != nil {
		t.Fatalf("unexpected message error: %v", err)
	}
	return message
}

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscription := dispatcher.Subscribe(ctx, UserStream("user-1"))
	defer subscription.Close()

	dispatcher.Publish(mustMessage(t, ToUser("user-1"), PinChanged{ChannelID: "c-1", IsPinned: true}))

	select {
	case received := <-subscription.Messages():
		if received.Event != EventPinChanged {
			t.Fatalf("expected event %s, got %s", EventPinChanged, received.Event)
		}
		if received.Stream != "user:user-1" {
			t.Fatalf("unexpected stream %s", received.Stream)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestDispatcherIsolatedByStream(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userSubscription := dispatcher.Subscribe(ctx, UserStream("user-2"))
	roomSubscription := dispatcher.Subscribe(ctx, ChannelStream("c-9"))

	dispatcher.Publish(mustMessage(t, ToChannel("c-9"), MemberLeft{ChannelID: "c-9", MemberID: "user-4"}))

	select {
	case <-userSubscription.Messages():
		t.Fatal("did not expect room message on personal stream")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case msg := <-roomSubscription.Messages():
		if msg.Event != EventMemberLeft {
			t.Fatalf("unexpected event %s", msg.Event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected room message")
	}
}

func TestSubscriptionFollowAndUnfollow(t *testing.T) {
	dispatcher := NewDispatcher()
	subscription := dispatcher.Subscribe(context.Background(), UserStream("user-1"))

	subscription.Follow(ChannelStream("c-1"))
	if dispatcher.SubscriberCount(ChannelStream("c-1")) != 1 {
		t.Fatalf("expected room subscription after follow")
	}
	subscription.Unfollow(ChannelStream("c-1"))
	if dispatcher.SubscriberCount(ChannelStream("c-1")) != 0 {
		t.Fatalf("expected room subscription to be removed")
	}

	subscription.Close()
	subscription.Close()
	if dispatcher.SubscriberCount(UserStream("user-1")) != 0 {
		t.Fatalf("expected close to unregister personal stream")
	}
	if _, ok := <-subscription.Messages(); ok {
		t.Fatalf("expected messages channel to be closed")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	subscription := dispatcher.Subscribe(ctx, UserStream("user-1"))
	cancel()

	select {
	case _, ok := <-subscription.Messages():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscription to close after context cancellation")
	}
}

func TestNewMessageRejectsEmptyDestination(t *testing.T) {
	if _, err := NewMessage(ToUser("  "), PinChanged{}, time.Now()); err == nil {
		t.Fatalf("expected error for empty destination")
	}
	if _, err := NewMessage(ToUser("u"), nil, time.Now()); err == nil {
		t.Fatalf("expected error for nil event")
	}
}
