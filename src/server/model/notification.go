package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sentinel errors distinguished by callers with errors.Is
var (
	ErrNotFound   = errors.New("notification not found")
	ErrValidation = errors.New("validation failed")
)

const (
	// MaxTitleLength is the stored title limit (post-sanitization)
	MaxTitleLength = 200
	// MaxMessageLength is the stored message limit (post-sanitization)
	MaxMessageLength = 1000
)

// NotificationType is a presentation hint for the client
type NotificationType string

const (
	NotificationTypeError   NotificationType = "error"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeInfo    NotificationType = "info"
)

// Valid reports whether t is a known notification type
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeError, NotificationTypeWarning, NotificationTypeSuccess, NotificationTypeInfo:
		return true
	}
	return false
}

// Priority is the urgency carrier; lower is more urgent
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityMedium   Priority = 3
	PriorityLow      Priority = 4
	PriorityInfo     Priority = 5
)

// Valid reports whether p is in the closed 1..5 range
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityInfo
}

// Category groups notifications by the domain area that produced them
type Category string

const (
	CategoryInventory Category = "inventory"
	CategoryExpiry    Category = "expiry"
	CategorySales     Category = "sales"
	CategorySystem    Category = "system"
	CategoryGeneral   Category = "general"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryInventory, CategoryExpiry, CategorySales, CategorySystem, CategoryGeneral:
		return true
	}
	return false
}

// Metadata is the documented key/value bag carried by a notification.
// The core only reads the documented keys: productId, actionUrl,
// notification_key, suppressEmail, aggregated, severity.
type Metadata map[string]interface{}

// GetString returns the string value for key, or "" when absent
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value for key, or false when absent
func (m Metadata) GetBool(key string) bool {
	if m == nil {
		return false
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// Clone returns a shallow copy so callers can add keys without
// mutating the caller's map
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Notification represents a stored user-visible alert
type Notification struct {
	ID          string           `json:"id"`
	UserID      int              `json:"user_id"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Priority    Priority         `json:"priority"`
	Category    Category         `json:"category"`
	Metadata    Metadata         `json:"metadata,omitempty"`
	IsRead      bool             `json:"is_read"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	DismissedAt *time.Time       `json:"dismissed_at,omitempty"`
	EmailSent   bool             `json:"email_sent"`
	EmailSentAt *time.Time       `json:"email_sent_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Sanitize HTML-escapes title/message content. Unescaping first keeps the
// operation idempotent: sanitizing already-sanitized text is a no-op.
func Sanitize(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}

// Unsanitize reverses Sanitize for plain-text surfaces (email subjects,
// text bodies)
func Unsanitize(s string) string {
	return html.UnescapeString(s)
}

// ListOptions controls ListForUser queries
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
	Category   Category
}

// NotificationPage is one page of a user's notification list
type NotificationPage struct {
	Rows       []*Notification `json:"rows"`
	TotalCount int             `json:"total_count"`
	HasMore    bool            `json:"has_more"`
}

// NotificationModel handles notification database operations
type NotificationModel struct {
	DB *sql.DB
}

const notificationColumns = `id, user_id, title, message, type, priority, category,
	metadata_json, is_read, read_at, dismissed_at, email_sent, email_sent_at, created_at`

// Insert stores a new notification and returns the post-write row.
// Title and message must already be sanitized by the dispatcher.
func (m *NotificationModel) Insert(n *Notification) (*Notification, error) {
	id := ulid.Make().String()

	var metadataJSON *string
	if len(n.Metadata) > 0 {
		data, err := json.Marshal(n.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		s := string(data)
		metadataJSON = &s
	}

	_, err := m.DB.Exec(`
		INSERT INTO notifications (id, user_id, title, message, type, priority, category,
			metadata_json, is_read, email_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
	`, id, n.UserID, n.Title, n.Message, n.Type, int(n.Priority), n.Category, metadataJSON, time.Now().UTC())

	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	return m.GetByID(id)
}

// GetByID retrieves a notification by ID, dismissed or not
func (m *NotificationModel) GetByID(id string) (*Notification, error) {
	row := m.DB.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// getOwned retrieves a notification owned by userID; ownership mismatch
// is indistinguishable from absence by design
func (m *NotificationModel) getOwned(id string, userID int) (*Notification, error) {
	row := m.DB.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	return scanNotification(row)
}

// ListForUser retrieves one page of a user's notifications, newest first.
// Dismissed rows are always excluded.
func (m *NotificationModel) ListForUser(userID int, opts ListOptions) (*NotificationPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	where := "WHERE user_id = ? AND dismissed_at IS NULL"
	args := []interface{}{userID}

	if opts.UnreadOnly {
		where += " AND is_read = 0"
	}
	if opts.Category != "" {
		where += " AND category = ?"
		args = append(args, opts.Category)
	}

	var total int
	if err := m.DB.QueryRow("SELECT COUNT(*) FROM notifications "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications ` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	list, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}

	return &NotificationPage{
		Rows:       list,
		TotalCount: total,
		HasMore:    total > opts.Offset+opts.Limit,
	}, nil
}

// UnreadCount returns the count of unread, non-dismissed notifications
func (m *NotificationModel) UnreadCount(userID int) (int, error) {
	var count int
	err := m.DB.QueryRow(`
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND is_read = 0 AND dismissed_at IS NULL
	`, userID).Scan(&count)
	return count, err
}

// MarkRead marks a notification as read and returns the post-write row.
// Calling it twice is a no-op; read_at is set exactly once.
func (m *NotificationModel) MarkRead(id string, userID int) (*Notification, error) {
	_, err := m.DB.Exec(`
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE id = ? AND user_id = ? AND is_read = 0
	`, time.Now().UTC(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}

	return m.getOwned(id, userID)
}

// MarkAllRead marks every unread, non-dismissed notification read and
// returns the updated rows so the caller can publish change events.
// The select+update runs in one transaction: a concurrent reader sees all
// rows updated or none.
func (m *NotificationModel) MarkAllRead(userID int) ([]*Notification, error) {
	tx, err := m.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM notifications
		WHERE user_id = ? AND is_read = 0 AND dismissed_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select unread notifications: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.Exec(`
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND is_read = 0 AND dismissed_at IS NULL
	`, time.Now().UTC(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark all read: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := make([]*Notification, 0, len(ids))
	for _, id := range ids {
		n, err := m.GetByID(id)
		if err != nil {
			continue
		}
		updated = append(updated, n)
	}
	return updated, nil
}

// Dismiss soft-deletes a notification. Dismissing twice is a no-op.
func (m *NotificationModel) Dismiss(id string, userID int) (*Notification, error) {
	_, err := m.DB.Exec(`
		UPDATE notifications SET dismissed_at = ?
		WHERE id = ? AND user_id = ? AND dismissed_at IS NULL
	`, time.Now().UTC(), id, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to dismiss notification: %w", err)
	}

	return m.getOwned(id, userID)
}

// DismissAll soft-deletes all visible notifications and returns the
// dismissed rows
func (m *NotificationModel) DismissAll(userID int) ([]*Notification, error) {
	tx, err := m.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM notifications WHERE user_id = ? AND dismissed_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.Exec(`
		UPDATE notifications SET dismissed_at = ?
		WHERE user_id = ? AND dismissed_at IS NULL
	`, time.Now().UTC(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to dismiss all: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	dismissed := make([]*Notification, 0, len(ids))
	for _, id := range ids {
		n, err := m.GetByID(id)
		if err != nil {
			continue
		}
		dismissed = append(dismissed, n)
	}
	return dismissed, nil
}

// SetEmailSent records successful email delivery for a notification
func (m *NotificationModel) SetEmailSent(id string, at time.Time) error {
	_, err := m.DB.Exec(`
		UPDATE notifications SET email_sent = 1, email_sent_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set email_sent: %w", err)
	}
	return nil
}

// CleanupOlderThan hard-deletes rows dismissed more than days ago
func (m *NotificationModel) CleanupOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := m.DB.Exec(`
		DELETE FROM notifications WHERE dismissed_at IS NOT NULL AND dismissed_at <= ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup notifications: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var metadataJSON sql.NullString
	var readAt, dismissedAt, emailSentAt sql.NullTime
	var priority int

	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &priority, &n.Category,
		&metadataJSON, &n.IsRead, &readAt, &dismissedAt, &n.EmailSent, &emailSentAt, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	n.Priority = Priority(priority)
	if metadataJSON.Valid && metadataJSON.String != "" {
		var meta Metadata
		if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err == nil {
			n.Metadata = meta
		}
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if dismissedAt.Valid {
		n.DismissedAt = &dismissedAt.Time
	}
	if emailSentAt.Valid {
		n.EmailSentAt = &emailSentAt.Time
	}

	return n, nil
}

func scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	notifications := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
