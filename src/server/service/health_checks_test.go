package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
)

type healthFixture struct {
	db     *sql.DB
	health *HealthCheckService
	svc    *NotificationService
	sender *fakeSender
	userID int
}

func newHealthFixture(t *testing.T) *healthFixture {
	t.Helper()

	db := newTestDB(t)
	userID := seedUser(t, db, "admin@pharmacy.test", "Alice", "admin")

	hub := NewWebSocketHub()
	t.Cleanup(hub.Stop)

	sender := &fakeSender{ready: true}
	notificationModel := &models.NotificationModel{DB: db}
	router := NewEmailRouter(notificationModel, &models.UserModel{DB: db}, sender, nil)
	svc := NewNotificationService(notificationModel, &models.CooldownModel{DB: db}, hub, router)
	t.Cleanup(svc.Close)

	health := NewHealthCheckService(
		&models.ProductModel{DB: db},
		&models.UserModel{DB: db},
		svc,
		router,
		&models.ScanScheduleModel{DB: db},
		NewSettingsService(db),
	)

	return &healthFixture{db: db, health: health, svc: svc, sender: sender, userID: userID}
}

func TestEffectiveReorderLevel(t *testing.T) {
	tests := []struct {
		name    string
		stock   int
		reorder int
		want    int
	}{
		{"configured level wins", 100, 20, 20},
		{"derived from stock", 100, 0, 20},
		{"derived floor of 5", 10, 0, 5},
		{"zero stock floor", 0, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.Product{StockInPieces: tt.stock, ReorderLevel: tt.reorder}
			if got := EffectiveReorderLevel(p); got != tt.want {
				t.Errorf("EffectiveReorderLevel = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCriticalThreshold(t *testing.T) {
	tests := []struct {
		effective int
		want      int
	}{
		{20, 10},
		{10, 5},
		{8, 5},
		{4, 4},
		{2, 2},
	}

	for _, tt := range tests {
		if got := CriticalThreshold(tt.effective); got != tt.want {
			t.Errorf("CriticalThreshold(%d) = %d, want %d", tt.effective, got, tt.want)
		}
	}
}

func TestRunHealthChecksCreatesNotifications(t *testing.T) {
	f := newHealthFixture(t)

	seedProduct(t, f.db, "P1", "Paracetamol", 0, 10, nil)   // out of stock
	seedProduct(t, f.db, "P2", "Ibuprofen", 8, 10, nil)     // low (threshold 10, critical at 5)
	seedProduct(t, f.db, "P3", "Amoxicillin", 10, 20, nil)  // critical (threshold 20, critical at 10)
	seedProduct(t, f.db, "P4", "Cetirizine", 100, 10, nil)  // healthy
	expiry := time.Now().UTC().AddDate(0, 0, 10).Format("2006-01-02")
	seedProduct(t, f.db, "P5", "Insulin", 50, 10, expiry)   // expiring

	result := f.health.RunHealthChecks(context.Background(), true)
	if result.Skipped {
		t.Fatalf("Forced run was skipped: %s", result.Reason)
	}

	if result.OutOfStock.NotificationsCreated != 1 {
		t.Errorf("OutOfStock created %d, want 1", result.OutOfStock.NotificationsCreated)
	}
	if result.LowStock.NotificationsCreated != 2 {
		t.Errorf("LowStock created %d, want 2 (one low, one critical)", result.LowStock.NotificationsCreated)
	}
	if result.Expiring.NotificationsCreated != 1 {
		t.Errorf("Expiring created %d, want 1", result.Expiring.NotificationsCreated)
	}
	if result.TotalNotifications != 4 {
		t.Errorf("TotalNotifications = %d, want 4", result.TotalNotifications)
	}

	if !result.EmailAttempted || !result.EmailSent {
		t.Errorf("Expected aggregated email, got attempted=%v sent=%v", result.EmailAttempted, result.EmailSent)
	}
	msgs := f.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("Sent %d emails, want exactly 1 aggregated", len(msgs))
	}
	if !strings.Contains(msgs[0].Subject, "CRITICAL") {
		t.Errorf("Subject = %q, want CRITICAL tag", msgs[0].Subject)
	}

	page, err := f.svc.List(f.userID, models.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.TotalCount != 4 {
		t.Errorf("Stored %d notifications, want 4", page.TotalCount)
	}
}

func TestRunHealthChecksCriticalEscalation(t *testing.T) {
	f := newHealthFixture(t)

	// Threshold 20, critical boundary 10: stock exactly 10 escalates
	seedProduct(t, f.db, "P1", "Amoxicillin", 10, 20, nil)

	result := f.health.RunHealthChecks(context.Background(), true)
	if result.LowStock.NotificationsCreated != 1 {
		t.Fatalf("Created %d, want 1", result.LowStock.NotificationsCreated)
	}

	page, err := f.svc.List(f.userID, models.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	n := page.Rows[0]
	if n.Priority != models.PriorityCritical {
		t.Errorf("Priority = %d, want critical at the boundary", n.Priority)
	}
	if !strings.Contains(n.Title, "Critical") {
		t.Errorf("Title = %q, want critical stock alert", n.Title)
	}
}

func TestRunHealthChecksExpiryWindowBoundary(t *testing.T) {
	f := newHealthFixture(t)

	inWindow := time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")
	outOfWindow := time.Now().UTC().AddDate(0, 0, 31).Format("2006-01-02")
	seedProduct(t, f.db, "P1", "Insulin", 50, 10, inWindow)
	seedProduct(t, f.db, "P2", "Aspirin", 50, 10, outOfWindow)

	result := f.health.RunHealthChecks(context.Background(), true)
	if result.Expiring.NotificationsCreated != 1 {
		t.Errorf("Expiring created %d, want 1 (day 30 in, day 31 out)", result.Expiring.NotificationsCreated)
	}
}

func TestRunHealthChecksLocalDebounce(t *testing.T) {
	f := newHealthFixture(t)
	seedProduct(t, f.db, "P1", "Paracetamol", 0, 10, nil)

	base := time.Now()
	f.health.now = func() time.Time { return base }

	first := f.health.RunHealthChecks(context.Background(), false)
	if first.Skipped {
		t.Fatalf("First run was skipped: %s", first.Reason)
	}

	second := f.health.RunHealthChecks(context.Background(), false)
	if !second.Skipped || second.Reason != "local debounce" {
		t.Errorf("Expected local debounce skip, got %+v", second)
	}

	forced := f.health.RunHealthChecks(context.Background(), true)
	if forced.Skipped {
		t.Errorf("Forced run must bypass the debounce: %s", forced.Reason)
	}
}

func TestRunHealthChecksOutOfStockAlwaysRuns(t *testing.T) {
	f := newHealthFixture(t)
	seedProduct(t, f.db, "P1", "Paracetamol", 8, 10, nil)

	base := time.Now()
	f.health.now = func() time.Time { return base }

	first := f.health.RunHealthChecks(context.Background(), false)
	if first.Skipped {
		t.Fatalf("First run was skipped: %s", first.Reason)
	}
	if !first.LowStock.Ran {
		t.Error("Low stock should run on the first pass")
	}

	// Past the scan debounce but inside the low-stock interval
	f.health.now = func() time.Time { return base.Add(20 * time.Minute) }
	past := time.Now().UTC().Add(-20 * time.Minute)
	if _, err := f.db.Exec(`UPDATE scan_schedule SET last_run_at = ? WHERE check_type = 'all'`, past); err != nil {
		t.Fatalf("Failed to backdate schedule: %v", err)
	}

	second := f.health.RunHealthChecks(context.Background(), false)
	if second.Skipped {
		t.Fatalf("Second run was skipped: %s", second.Reason)
	}
	if !second.OutOfStock.Ran {
		t.Error("Out of stock must run on every scan")
	}
	if second.LowStock.Ran {
		t.Error("Low stock should wait out its interval")
	}
}

func TestRunHealthChecksNoRecipient(t *testing.T) {
	db := newTestDB(t)
	seedProduct(t, db, "P1", "Paracetamol", 0, 10, nil)
	// Cashiers never receive scanner output
	seedUser(t, db, "cashier@pharmacy.test", "Bob", "cashier")

	hub := NewWebSocketHub()
	t.Cleanup(hub.Stop)
	notificationModel := &models.NotificationModel{DB: db}
	sender := &fakeSender{ready: true}
	router := NewEmailRouter(notificationModel, &models.UserModel{DB: db}, sender, nil)
	svc := NewNotificationService(notificationModel, &models.CooldownModel{DB: db}, hub, router)
	t.Cleanup(svc.Close)

	health := NewHealthCheckService(
		&models.ProductModel{DB: db},
		&models.UserModel{DB: db},
		svc, router,
		&models.ScanScheduleModel{DB: db},
		NewSettingsService(db),
	)

	result := health.RunHealthChecks(context.Background(), true)
	if !result.Skipped || result.Reason != "no eligible recipient" {
		t.Errorf("Expected no-recipient skip, got %+v", result)
	}
}

func TestRunHealthChecksDedupAcrossRuns(t *testing.T) {
	f := newHealthFixture(t)
	seedProduct(t, f.db, "P1", "Paracetamol", 0, 10, nil)

	first := f.health.RunHealthChecks(context.Background(), true)
	if first.TotalNotifications != 1 {
		t.Fatalf("First run created %d, want 1", first.TotalNotifications)
	}

	second := f.health.RunHealthChecks(context.Background(), true)
	if second.Skipped {
		t.Fatalf("Forced second run was skipped: %s", second.Reason)
	}
	if second.TotalNotifications != 0 {
		t.Errorf("Second run created %d, want 0 (cooldown suppression)", second.TotalNotifications)
	}
	if second.EmailAttempted {
		t.Error("No new findings means no aggregated email")
	}
}

func TestSendDailySummaryRespectsToggle(t *testing.T) {
	f := newHealthFixture(t)
	seedProduct(t, f.db, "P1", "Paracetamol", 0, 10, nil)

	if err := f.health.SendDailySummary(context.Background()); err != nil {
		t.Fatalf("SendDailySummary failed: %v", err)
	}
	if len(f.sender.messages()) != 0 {
		t.Fatal("Disabled daily summary must not send")
	}

	if _, err := f.db.Exec(`
		INSERT INTO settings (key, value) VALUES ('notifications.daily_email_enabled', 'true')
	`); err != nil {
		t.Fatalf("Failed to enable daily email: %v", err)
	}
	f.health.settings.Invalidate()

	if err := f.health.SendDailySummary(context.Background()); err != nil {
		t.Fatalf("SendDailySummary failed: %v", err)
	}

	msgs := f.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("Sent %d emails, want 1", len(msgs))
	}
	if msgs[0].To[0] != "admin@pharmacy.test" {
		t.Errorf("To = %s, want primary user fallback", msgs[0].To[0])
	}

	// The daily report only emails; no notifications are created
	page, err := f.svc.List(f.userID, models.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.TotalCount != 0 {
		t.Errorf("Daily summary created %d notifications, want 0", page.TotalCount)
	}
}
