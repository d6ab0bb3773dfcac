package service

import (
	"testing"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
)

func testEvent(userID int, id string) NotificationEvent {
	return NotificationEvent{
		Event: EventInsert,
		Row: &models.Notification{
			ID:     id,
			UserID: userID,
			Title:  "test",
		},
	}
}

func waitForEvent(t *testing.T, ch <-chan NotificationEvent) NotificationEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return NotificationEvent{}
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	received := make(chan NotificationEvent, 8)
	unsubscribe := hub.Subscribe(1, "client-a", func(ev NotificationEvent) {
		received <- ev
	})
	defer unsubscribe()

	hub.Publish(testEvent(1, "N1"))

	ev := waitForEvent(t, received)
	if ev.Event != EventInsert {
		t.Errorf("Event = %s, want insert", ev.Event)
	}
	if ev.Row.ID != "N1" {
		t.Errorf("Row.ID = %s, want N1", ev.Row.ID)
	}
}

func TestPublishScopedToUser(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	user1 := make(chan NotificationEvent, 8)
	user2 := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "a", func(ev NotificationEvent) { user1 <- ev })()
	defer hub.Subscribe(2, "b", func(ev NotificationEvent) { user2 <- ev })()

	hub.Publish(testEvent(1, "N1"))

	waitForEvent(t, user1)
	select {
	case ev := <-user2:
		t.Errorf("User 2 received user 1's event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	received := make(chan NotificationEvent, 8)
	unsubscribe := hub.Subscribe(1, "client-a", func(ev NotificationEvent) {
		received <- ev
	})

	hub.Publish(testEvent(1, "N1"))
	waitForEvent(t, received)

	unsubscribe()
	if count := hub.SubscriberCount(1); count != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", count)
	}

	hub.Publish(testEvent(1, "N2"))
	select {
	case ev := <-received:
		t.Errorf("Received event after unsubscribe: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	first := make(chan NotificationEvent, 8)
	second := make(chan NotificationEvent, 8)

	hub.Subscribe(1, "client-a", func(ev NotificationEvent) { first <- ev })
	unsubscribe := hub.Subscribe(1, "client-a", func(ev NotificationEvent) { second <- ev })
	defer unsubscribe()

	if count := hub.SubscriberCount(1); count != 1 {
		t.Fatalf("SubscriberCount = %d after resubscribe, want 1", count)
	}

	hub.Publish(testEvent(1, "N1"))
	waitForEvent(t, second)

	select {
	case ev := <-first:
		t.Errorf("Replaced subscription received event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "bad", func(NotificationEvent) {
		panic("handler bug")
	})()
	defer hub.Subscribe(1, "good", func(ev NotificationEvent) {
		received <- ev
	})()

	hub.Publish(testEvent(1, "N1"))
	waitForEvent(t, received)

	// The panicking subscriber keeps receiving too
	hub.Publish(testEvent(1, "N2"))
	waitForEvent(t, received)
}

func TestPublishNilRowIgnored(t *testing.T) {
	hub := NewWebSocketHub()
	defer hub.Stop()

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "a", func(ev NotificationEvent) { received <- ev })()

	hub.Publish(NotificationEvent{Event: EventInsert})

	select {
	case ev := <-received:
		t.Errorf("Nil-row event was delivered: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
