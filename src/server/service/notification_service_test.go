package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
)

func newTestService(t *testing.T) (*NotificationService, *WebSocketHub) {
	t.Helper()

	db := newTestDB(t)
	hub := NewWebSocketHub()
	t.Cleanup(hub.Stop)

	svc := NewNotificationService(
		&models.NotificationModel{DB: db},
		&models.CooldownModel{DB: db},
		hub,
		nil,
	)
	t.Cleanup(svc.Close)
	return svc, hub
}

func TestCreateDefaultsAndSanitization(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Create(context.Background(), CreateParams{
		UserID:  1,
		Title:   `<b>Bold</b> title`,
		Message: "a & b",
		NoDedup: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n := result.Notification
	if n.Type != models.NotificationTypeInfo {
		t.Errorf("Type = %s, want info default", n.Type)
	}
	if n.Priority != models.PriorityMedium {
		t.Errorf("Priority = %d, want medium default", n.Priority)
	}
	if n.Category != models.CategoryGeneral {
		t.Errorf("Category = %s, want general default", n.Category)
	}
	if n.Title != "&lt;b&gt;Bold&lt;/b&gt; title" {
		t.Errorf("Title not sanitized: %q", n.Title)
	}
	if n.Message != "a &amp; b" {
		t.Errorf("Message not sanitized: %q", n.Message)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		params CreateParams
	}{
		{"missing title", CreateParams{UserID: 1, Message: "m"}},
		{"missing message", CreateParams{UserID: 1, Title: "t"}},
		{"bad type", CreateParams{UserID: 1, Title: "t", Message: "m", Type: "urgent"}},
		{"bad priority", CreateParams{UserID: 1, Title: "t", Message: "m", Priority: 9}},
		{"bad category", CreateParams{UserID: 1, Title: "t", Message: "m", Category: "misc"}},
		{"over-long title", CreateParams{UserID: 1, Title: strings.Repeat("t", 201), Message: "m"}},
		{"over-long message", CreateParams{UserID: 1, Title: "t", Message: strings.Repeat("m", 1001)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.params)
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateLengthLimitsApplyPostSanitize(t *testing.T) {
	svc, _ := newTestService(t)

	// 60 ampersands escape to 300 characters, over the 200 title limit
	_, err := svc.Create(context.Background(), CreateParams{
		UserID:  1,
		Title:   strings.Repeat("&", 60),
		Message: "m",
		NoDedup: true,
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for title that escapes past the limit, got %v", err)
	}

	// At the boundary the create passes and nothing is cut
	result, err := svc.Create(context.Background(), CreateParams{
		UserID:  1,
		Title:   strings.Repeat("t", models.MaxTitleLength),
		Message: strings.Repeat("m", models.MaxMessageLength),
		NoDedup: true,
	})
	if err != nil {
		t.Fatalf("Create at the limit failed: %v", err)
	}
	if len(result.Notification.Title) != models.MaxTitleLength {
		t.Errorf("Title length = %d, want %d intact", len(result.Notification.Title), models.MaxTitleLength)
	}
}

func TestCreateDuplicateSuppression(t *testing.T) {
	svc, _ := newTestService(t)

	params := CreateParams{
		UserID:        1,
		Title:         "Low Stock",
		Message:       "m",
		Category:      models.CategoryInventory,
		Metadata:      models.Metadata{"productId": "P1"},
		CooldownHours: 24,
	}

	first, err := svc.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.Suppressed {
		t.Fatal("First create should not be suppressed")
	}

	second, err := svc.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("Second create failed: %v", err)
	}
	if !second.Suppressed {
		t.Error("Second create within the window should be suppressed")
	}
	if second.Notification != nil {
		t.Error("Suppressed create must not return a notification")
	}

	page, err := svc.List(1, models.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.TotalCount != 1 {
		t.Errorf("Stored %d notifications, want 1", page.TotalCount)
	}
}

func TestCreateExplicitKeyOverridesProductKey(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.Create(context.Background(), CreateParams{
		UserID:   1,
		Title:    "Expiry",
		Message:  "m",
		Category: models.CategoryExpiry,
		Metadata: models.Metadata{"productId": "P1", "notification_key": "expiry:P1:2026-01-01"},
	})
	if err != nil || first.Suppressed {
		t.Fatalf("First create: suppressed=%v err=%v", first.Suppressed, err)
	}

	// Same product, different explicit key: a new batch date alerts again
	second, err := svc.Create(context.Background(), CreateParams{
		UserID:   1,
		Title:    "Expiry",
		Message:  "m",
		Category: models.CategoryExpiry,
		Metadata: models.Metadata{"productId": "P1", "notification_key": "expiry:P1:2026-06-01"},
	})
	if err != nil {
		t.Fatalf("Second create failed: %v", err)
	}
	if second.Suppressed {
		t.Error("Distinct explicit keys must not suppress each other")
	}
}

func TestCreateNoDedupAlwaysStores(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		result, err := svc.Create(context.Background(), CreateParams{
			UserID:   1,
			Title:    "Sale Completed",
			Message:  "m",
			Category: models.CategorySales,
			NoDedup:  true,
		})
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if result.Suppressed {
			t.Errorf("NoDedup create %d was suppressed", i)
		}
	}

	page, err := svc.List(1, models.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.TotalCount != 3 {
		t.Errorf("Stored %d notifications, want 3", page.TotalCount)
	}
}

func TestCreatePublishesInsertEvent(t *testing.T) {
	svc, hub := newTestService(t)

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "test", func(ev NotificationEvent) { received <- ev })()

	result, err := svc.Create(context.Background(), CreateParams{
		UserID:  1,
		Title:   "realtime",
		Message: "m",
		NoDedup: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ev := waitForEvent(t, received)
	if ev.Event != EventInsert {
		t.Errorf("Event = %s, want insert", ev.Event)
	}
	if ev.Row.ID != result.Notification.ID {
		t.Errorf("Row.ID = %s, want %s", ev.Row.ID, result.Notification.ID)
	}
}

func TestMarkReadPublishesUpdateEvent(t *testing.T) {
	svc, hub := newTestService(t)

	result, err := svc.Create(context.Background(), CreateParams{UserID: 1, Title: "n", Message: "m", NoDedup: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "test", func(ev NotificationEvent) { received <- ev })()

	if _, err := svc.MarkRead(result.Notification.ID, 1); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	ev := waitForEvent(t, received)
	if ev.Event != EventUpdate {
		t.Errorf("Event = %s, want update", ev.Event)
	}
	if !ev.Row.IsRead {
		t.Error("Update event row should be read")
	}
}

func TestDismissPublishesDeleteEvent(t *testing.T) {
	svc, hub := newTestService(t)

	result, err := svc.Create(context.Background(), CreateParams{UserID: 1, Title: "n", Message: "m", NoDedup: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "test", func(ev NotificationEvent) { received <- ev })()

	if err := svc.Dismiss(result.Notification.ID, 1); err != nil {
		t.Fatalf("Dismiss failed: %v", err)
	}

	ev := waitForEvent(t, received)
	if ev.Event != EventDelete {
		t.Errorf("Event = %s, want delete", ev.Event)
	}
	if ev.Row.DismissedAt == nil {
		t.Error("Delete event row should carry dismissed_at")
	}
}

func TestMarkAllReadPublishesPerRow(t *testing.T) {
	svc, hub := newTestService(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), CreateParams{UserID: 1, Title: "n", Message: "m", NoDedup: true}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	received := make(chan NotificationEvent, 8)
	defer hub.Subscribe(1, "test", func(ev NotificationEvent) { received <- ev })()

	count, err := svc.MarkAllRead(1)
	if err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if count != 3 {
		t.Errorf("MarkAllRead count = %d, want 3", count)
	}

	for i := 0; i < 3; i++ {
		ev := waitForEvent(t, received)
		if ev.Event != EventUpdate {
			t.Errorf("Event %d = %s, want update", i, ev.Event)
		}
	}
}

func TestNotifyExpiringSoonEscalation(t *testing.T) {
	svc, _ := newTestService(t)

	soon := time.Now().AddDate(0, 0, 5)
	result, err := svc.NotifyExpiringSoon(context.Background(), 1, "P1", "Amoxicillin", soon, 5, true)
	if err != nil {
		t.Fatalf("NotifyExpiringSoon failed: %v", err)
	}
	if result.Notification.Priority != models.PriorityCritical {
		t.Errorf("5 days left priority = %d, want critical", result.Notification.Priority)
	}

	later := time.Now().AddDate(0, 0, 20)
	result, err = svc.NotifyExpiringSoon(context.Background(), 1, "P2", "Ibuprofen", later, 20, true)
	if err != nil {
		t.Fatalf("NotifyExpiringSoon failed: %v", err)
	}
	if result.Notification.Priority != models.PriorityHigh {
		t.Errorf("20 days left priority = %d, want high", result.Notification.Priority)
	}
}

func TestHelperCooldownKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Low stock and critical stock for the same product share the
	// inventory:<id> key, so escalation within the window is suppressed
	first, err := svc.NotifyLowStock(ctx, 1, "P1", "Paracetamol", 8, 10, true)
	if err != nil || first.Suppressed {
		t.Fatalf("NotifyLowStock: suppressed=%v err=%v", first.Suppressed, err)
	}
	second, err := svc.NotifyCriticalStock(ctx, 1, "P1", "Paracetamol", 2, 10, true)
	if err != nil {
		t.Fatalf("NotifyCriticalStock failed: %v", err)
	}
	if !second.Suppressed {
		t.Error("Same-product stock alert within the window should be suppressed")
	}

	// Expiry uses its own keyspace and is not affected
	third, err := svc.NotifyExpiringSoon(ctx, 1, "P1", "Paracetamol", time.Now().AddDate(0, 0, 10), 10, true)
	if err != nil {
		t.Fatalf("NotifyExpiringSoon failed: %v", err)
	}
	if third.Suppressed {
		t.Error("Expiry alert must not collide with stock alerts")
	}
}

func TestStockHelperEmailSuppressionFlag(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	suppressed, err := svc.NotifyOutOfStock(ctx, 1, "P1", "Paracetamol", true)
	if err != nil {
		t.Fatalf("NotifyOutOfStock failed: %v", err)
	}
	if !suppressed.Notification.Metadata.GetBool("suppressEmail") {
		t.Error("Scan dispatch should carry the suppressEmail flag")
	}

	direct, err := svc.NotifyOutOfStock(ctx, 1, "P2", "Ibuprofen", false)
	if err != nil {
		t.Fatalf("NotifyOutOfStock failed: %v", err)
	}
	if direct.Notification.Metadata.GetBool("suppressEmail") {
		t.Error("Direct dispatch must stay eligible for individual email")
	}
}

func TestNotifySystemErrorAlwaysCriticalAndStored(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := svc.NotifySystemError(ctx, 1, "Backup Failed", "disk full")
		if err != nil {
			t.Fatalf("NotifySystemError failed: %v", err)
		}
		if result.Suppressed {
			t.Fatalf("Failure report %d was suppressed", i)
		}
		if result.Notification.Priority != models.PriorityCritical {
			t.Errorf("Priority = %d, want critical", result.Notification.Priority)
		}
	}
}
