package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/apimgr/pharmacy/src/server/metrics"
	"github.com/apimgr/pharmacy/src/server/model"
)

// DefaultCooldownHours applies when a deduplicated create names no window
const DefaultCooldownHours = 24

// CreateParams describes one notification to dispatch
type CreateParams struct {
	UserID   int
	Title    string
	Message  string
	Type     models.NotificationType
	Priority models.Priority
	Category models.Category
	Metadata models.Metadata
	// CooldownHours overrides DefaultCooldownHours for the dedup window
	CooldownHours int
	// NoDedup bypasses the cooldown ledger entirely (transactional
	// notifications that must always appear)
	NoDedup bool
}

// CreateResult reports the outcome of one dispatch
type CreateResult struct {
	Notification *models.Notification
	// Suppressed is true when the cooldown ledger dropped the dispatch
	Suppressed bool
}

// NotificationService is the single entry point for creating and
// managing notifications. Every create flows validate -> sanitize ->
// dedup -> store -> publish -> email.
type NotificationService struct {
	notifications *models.NotificationModel
	cooldowns     *models.CooldownModel
	hub           *WebSocketHub
	router        *EmailRouter

	// emailWG tracks in-flight async email sends for Close
	emailWG sync.WaitGroup
}

// NewNotificationService wires the dispatcher
func NewNotificationService(notifications *models.NotificationModel, cooldowns *models.CooldownModel, hub *WebSocketHub, router *EmailRouter) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		cooldowns:     cooldowns,
		hub:           hub,
		router:        router,
	}
}

// Close waits for in-flight email deliveries to finish
func (s *NotificationService) Close() {
	s.emailWG.Wait()
}

// Create validates, sanitizes, deduplicates, stores, and fans out one
// notification. A suppressed dispatch is not an error: the result says
// so and no row is written.
func (s *NotificationService) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if p.Message == "" {
		return nil, fmt.Errorf("%w: message is required", models.ErrValidation)
	}
	if p.Type == "" {
		p.Type = models.NotificationTypeInfo
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", models.ErrValidation, p.Type)
	}
	if p.Priority == 0 {
		p.Priority = models.PriorityMedium
	}
	if !p.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range", models.ErrValidation, p.Priority)
	}
	if p.Category == "" {
		p.Category = models.CategoryGeneral
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrValidation, p.Category)
	}

	title := models.Sanitize(p.Title)
	message := models.Sanitize(p.Message)
	if len(title) > models.MaxTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", models.ErrValidation, models.MaxTitleLength)
	}
	if len(message) > models.MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, models.MaxMessageLength)
	}

	if !p.NoDedup {
		hours := p.CooldownHours
		if hours <= 0 {
			hours = DefaultCooldownHours
		}
		key := dedupKey(p, title)
		allowed, err := s.cooldowns.ShouldSend(p.UserID, key, hours)
		if err != nil {
			// A broken ledger must not silence alerts; log and proceed
			log.Printf("⚠️  Cooldown check failed for key %s: %v", key, err)
		} else if !allowed {
			metrics.DuplicatesSuppressed.Inc()
			return &CreateResult{Suppressed: true}, nil
		}
	}

	n, err := s.notifications.Insert(&models.Notification{
		UserID:   p.UserID,
		Title:    title,
		Message:  message,
		Type:     p.Type,
		Priority: p.Priority,
		Category: p.Category,
		Metadata: p.Metadata,
	})
	if err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Category)).Inc()

	s.hub.Publish(NotificationEvent{Event: EventInsert, Row: n})

	if s.router != nil && s.router.ShouldEmail(n) {
		s.emailWG.Add(1)
		go func() {
			defer s.emailWG.Done()
			s.router.SendForNotification(context.Background(), n)
		}()
	}

	return &CreateResult{Notification: n}, nil
}

// dedupKey picks the suppression key: explicit notification_key, then
// category:productId, then category:title
func dedupKey(p CreateParams, sanitizedTitle string) string {
	if key := p.Metadata.GetString("notification_key"); key != "" {
		return key
	}
	if productID := p.Metadata.GetString("productId"); productID != "" {
		return string(p.Category) + ":" + productID
	}
	return string(p.Category) + ":" + sanitizedTitle
}

// List returns one page of a user's notifications
func (s *NotificationService) List(userID int, opts models.ListOptions) (*models.NotificationPage, error) {
	return s.notifications.ListForUser(userID, opts)
}

// UnreadCount returns the user's unread badge count
func (s *NotificationService) UnreadCount(userID int) (int, error) {
	return s.notifications.UnreadCount(userID)
}

// MarkRead marks one notification read and publishes the update
func (s *NotificationService) MarkRead(id string, userID int) (*models.Notification, error) {
	n, err := s.notifications.MarkRead(id, userID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(NotificationEvent{Event: EventUpdate, Row: n})
	return n, nil
}

// MarkAllRead marks every unread notification read, publishing one
// update event per row
func (s *NotificationService) MarkAllRead(userID int) (int, error) {
	updated, err := s.notifications.MarkAllRead(userID)
	if err != nil {
		return 0, err
	}
	for _, n := range updated {
		s.hub.Publish(NotificationEvent{Event: EventUpdate, Row: n})
	}
	return len(updated), nil
}

// Dismiss soft-deletes one notification and publishes the delete event
func (s *NotificationService) Dismiss(id string, userID int) error {
	n, err := s.notifications.Dismiss(id, userID)
	if err != nil {
		return err
	}
	s.hub.Publish(NotificationEvent{Event: EventDelete, Row: n})
	return nil
}

// DismissAll soft-deletes all visible notifications, publishing one
// delete event per row
func (s *NotificationService) DismissAll(userID int) (int, error) {
	dismissed, err := s.notifications.DismissAll(userID)
	if err != nil {
		return 0, err
	}
	for _, n := range dismissed {
		s.hub.Publish(NotificationEvent{Event: EventDelete, Row: n})
	}
	return len(dismissed), nil
}

// Domain helpers. Each fixes the title, type, priority, dedup key, and
// cooldown window for one well-known alert shape.

// NotifyLowStock alerts that a product dropped below its reorder level.
// suppressEmail holds back the individual email; the scanner sets it and
// delivers one aggregated report instead.
func (s *NotificationService) NotifyLowStock(ctx context.Context, userID int, productID, productName string, stock, threshold int, suppressEmail bool) (*CreateResult, error) {
	metadata := models.Metadata{
		"productId": productID,
		"actionUrl": "/inventory?product=" + productID,
	}
	if suppressEmail {
		metadata["suppressEmail"] = true
	}
	return s.Create(ctx, CreateParams{
		UserID:        userID,
		Title:         "⚠️ Low Stock Alert",
		Message:       fmt.Sprintf("%s is running low: %d piece(s) left (reorder at %d).", productName, stock, threshold),
		Type:          models.NotificationTypeWarning,
		Priority:      models.PriorityHigh,
		Category:      models.CategoryInventory,
		Metadata:      metadata,
		CooldownHours: 24,
	})
}

// NotifyCriticalStock alerts that a product is nearly exhausted
func (s *NotificationService) NotifyCriticalStock(ctx context.Context, userID int, productID, productName string, stock, threshold int, suppressEmail bool) (*CreateResult, error) {
	metadata := models.Metadata{
		"productId": productID,
		"actionUrl": "/inventory?product=" + productID,
		"severity":  "critical",
	}
	if suppressEmail {
		metadata["suppressEmail"] = true
	}
	return s.Create(ctx, CreateParams{
		UserID:        userID,
		Title:         "🚨 Critical Stock Alert",
		Message:       fmt.Sprintf("%s is critically low: only %d piece(s) left (reorder at %d). Restock immediately.", productName, stock, threshold),
		Type:          models.NotificationTypeError,
		Priority:      models.PriorityCritical,
		Category:      models.CategoryInventory,
		Metadata:      metadata,
		CooldownHours: 6,
	})
}

// NotifyOutOfStock alerts that a product hit zero stock
func (s *NotificationService) NotifyOutOfStock(ctx context.Context, userID int, productID, productName string, suppressEmail bool) (*CreateResult, error) {
	metadata := models.Metadata{
		"productId": productID,
		"actionUrl": "/inventory?product=" + productID,
		"severity":  "critical",
	}
	if suppressEmail {
		metadata["suppressEmail"] = true
	}
	return s.Create(ctx, CreateParams{
		UserID:        userID,
		Title:         "❌ Out of Stock Alert",
		Message:       fmt.Sprintf("%s is out of stock. Sales of this product are blocked until restocked.", productName),
		Type:          models.NotificationTypeError,
		Priority:      models.PriorityCritical,
		Category:      models.CategoryInventory,
		Metadata:      metadata,
		CooldownHours: 12,
	})
}

// NotifyExpiringSoon alerts on an approaching expiry date. The dedup key
// includes the date so a relabeled batch alerts again.
func (s *NotificationService) NotifyExpiringSoon(ctx context.Context, userID int, productID, productName string, expiryDate time.Time, daysLeft int, suppressEmail bool) (*CreateResult, error) {
	priority := models.PriorityHigh
	notifType := models.NotificationTypeWarning
	if daysLeft <= 7 {
		priority = models.PriorityCritical
		notifType = models.NotificationTypeError
	}

	metadata := models.Metadata{
		"productId":        productID,
		"actionUrl":        "/inventory?product=" + productID,
		"notification_key": fmt.Sprintf("expiry:%s:%s", productID, expiryDate.Format("2006-01-02")),
	}
	if suppressEmail {
		metadata["suppressEmail"] = true
	}
	return s.Create(ctx, CreateParams{
		UserID:        userID,
		Title:         "⏰ Expiry Alert",
		Message:       fmt.Sprintf("%s expires on %s (%d day(s) left).", productName, expiryDate.Format("2006-01-02"), daysLeft),
		Type:          notifType,
		Priority:      priority,
		Category:      models.CategoryExpiry,
		Metadata:      metadata,
		CooldownHours: 24,
	})
}

// NotifySaleCompleted records a completed sale. Always dispatched.
func (s *NotificationService) NotifySaleCompleted(ctx context.Context, userID int, saleID string, total float64, itemCount int) (*CreateResult, error) {
	return s.Create(ctx, CreateParams{
		UserID:   userID,
		Title:    "💰 Sale Completed",
		Message:  fmt.Sprintf("Sale of %d item(s) totaling ₱%.2f completed.", itemCount, total),
		Type:     models.NotificationTypeSuccess,
		Priority: models.PriorityLow,
		Category: models.CategorySales,
		Metadata: models.Metadata{"saleId": saleID, "actionUrl": "/sales/" + saleID},
		NoDedup:  true,
	})
}

// NotifySystemError surfaces an internal failure to the user. Always
// dispatched; suppressing failure reports hides outages.
func (s *NotificationService) NotifySystemError(ctx context.Context, userID int, title, message string) (*CreateResult, error) {
	return s.Create(ctx, CreateParams{
		UserID:   userID,
		Title:    "🔧 " + title,
		Message:  message,
		Type:     models.NotificationTypeError,
		Priority: models.PriorityCritical,
		Category: models.CategorySystem,
		NoDedup:  true,
	})
}

// NotifyStockAdded records a manual stock addition. Always dispatched.
func (s *NotificationService) NotifyStockAdded(ctx context.Context, userID int, productID, productName string, quantity, newTotal int) (*CreateResult, error) {
	return s.Create(ctx, CreateParams{
		UserID:   userID,
		Title:    "📦 Stock Added",
		Message:  fmt.Sprintf("%d piece(s) of %s added. New total: %d.", quantity, productName, newTotal),
		Type:     models.NotificationTypeSuccess,
		Priority: models.PriorityInfo,
		Category: models.CategoryInventory,
		Metadata: models.Metadata{"productId": productID},
		NoDedup:  true,
	})
}

// NotifyBatchReceived records an inbound supplier batch. Always dispatched.
func (s *NotificationService) NotifyBatchReceived(ctx context.Context, userID int, batchID string, productCount int) (*CreateResult, error) {
	return s.Create(ctx, CreateParams{
		UserID:   userID,
		Title:    "🚚 Batch Received",
		Message:  fmt.Sprintf("Batch %s received with %d product(s).", batchID, productCount),
		Type:     models.NotificationTypeSuccess,
		Priority: models.PriorityLow,
		Category: models.CategoryInventory,
		Metadata: models.Metadata{"batchId": batchID},
		NoDedup:  true,
	})
}

// NotifyStockAdjustment records a manual stock correction. Always
// dispatched.
func (s *NotificationService) NotifyStockAdjustment(ctx context.Context, userID int, productID, productName string, delta, newTotal int, reason string) (*CreateResult, error) {
	direction := "increased"
	if delta < 0 {
		direction = "decreased"
		delta = -delta
	}
	message := fmt.Sprintf("%s stock %s by %d to %d.", productName, direction, delta, newTotal)
	if reason != "" {
		message += " Reason: " + reason + "."
	}

	return s.Create(ctx, CreateParams{
		UserID:   userID,
		Title:    "🔄 Stock Adjustment",
		Message:  message,
		Type:     models.NotificationTypeInfo,
		Priority: models.PriorityMedium,
		Category: models.CategoryInventory,
		Metadata: models.Metadata{"productId": productID},
		NoDedup:  true,
	})
}
