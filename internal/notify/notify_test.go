package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestNotifier(t *testing.T) *RedisNotifier {
	t.Helper()
	s := miniredis.RunT(t)
	notifier, err := NewRedisNotifier("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	t.Cleanup(func() { notifier.Close() })
	return notifier
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	notifier := setupTestNotifier(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan Event, 1)
	go func() {
		_ = notifier.Subscribe(ctx, "user_1", events)
	}()

	// Give the subscriber a moment to attach before publishing.
	deadline := time.Now().Add(2 * time.Second)
	sent := Event{
		ExportID: "exp_1",
		BookID:   "book_1",
		BookName: "Yearbook",
		Status:   "completed",
	}
	for {
		if err := notifier.Publish(ctx, "user_1", sent); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case got := <-events:
			if got != sent {
				t.Fatalf("event = %+v, want %+v", got, sent)
			}
			return
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no event received")
			}
		}
	}
}

func TestEventsAreTargetedPerUser(t *testing.T) {
	notifier := setupTestNotifier(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	otherEvents := make(chan Event, 1)
	go func() {
		_ = notifier.Subscribe(ctx, "user_2", otherEvents)
	}()
	time.Sleep(100 * time.Millisecond)

	if err := notifier.Publish(ctx, "user_1", Event{ExportID: "exp_1", Status: "failed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-otherEvents:
		t.Fatalf("user_2 received user_1's event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestChannelName(t *testing.T) {
	if got := Channel("abc"); got != "user:abc:exports" {
		t.Fatalf("channel = %q", got)
	}
}
