package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/apimgr/pharmacy/src/email"
	"github.com/apimgr/pharmacy/src/server/metrics"
	"github.com/apimgr/pharmacy/src/server/model"
)

// sendTimeout bounds one SMTP delivery attempt
const sendTimeout = 10 * time.Second

// SendResult reports what the router did with one delivery request
type SendResult struct {
	Sent    bool
	Skipped bool
	// "not_configured", "already_sent", "no_recipient" when skipped
	Reason string
	Err    error
}

// EmailRouter decides whether a notification leaves the system as email
// and performs the delivery. Policy: only CRITICAL and HIGH priority
// notifications go out individually, and only when SMTP is configured.
type EmailRouter struct {
	notifications *models.NotificationModel
	users         UserSource
	sender        EmailSender
	// override rewrites recipients before sending: exact address match
	// first, then the "*" catch-all. Used to funnel alerts to an on-call
	// inbox without touching user records.
	override map[string]string
}

// NewEmailRouter creates the router. override may be nil.
func NewEmailRouter(notifications *models.NotificationModel, users UserSource, sender EmailSender, override map[string]string) *EmailRouter {
	return &EmailRouter{
		notifications: notifications,
		users:         users,
		sender:        sender,
		override:      override,
	}
}

// ShouldEmail reports whether n qualifies for individual email delivery
func (r *EmailRouter) ShouldEmail(n *models.Notification) bool {
	if n.Priority > models.PriorityHigh {
		return false
	}
	if n.Metadata.GetBool("suppressEmail") {
		return false
	}
	return r.sender.Ready()
}

// SendForNotification delivers one notification as email, applying the
// routing policy. Safe to call for any notification; non-qualifying ones
// come back skipped. Delivery is recorded on the row so retries after a
// successful send become no-ops.
func (r *EmailRouter) SendForNotification(ctx context.Context, n *models.Notification) SendResult {
	if !r.sender.Ready() {
		return SendResult{Skipped: true, Reason: "not_configured"}
	}
	if n.EmailSent {
		return SendResult{Skipped: true, Reason: "already_sent"}
	}
	if !r.ShouldEmail(n) {
		return SendResult{Skipped: true, Reason: "policy"}
	}

	addr, firstName, err := r.users.Email(ctx, n.UserID)
	if err != nil {
		metrics.EmailsFailed.WithLabelValues("single").Inc()
		return SendResult{Err: fmt.Errorf("failed to resolve recipient for user %d: %w", n.UserID, err)}
	}
	addr = r.resolveRecipient(addr)
	if addr == "" {
		return SendResult{Skipped: true, Reason: "no_recipient"}
	}

	htmlBody, textBody := RenderAlertEmail(n, firstName)
	msg := email.Message{
		To:      []string{addr},
		Subject: subjectForPriority(n),
		HTML:    htmlBody,
		Text:    textBody,
	}

	if err := r.sendWithTimeout(ctx, msg); err != nil {
		metrics.EmailsFailed.WithLabelValues("single").Inc()
		log.Printf("⚠️  Email delivery failed for notification %s: %v", n.ID, err)
		return SendResult{Err: err}
	}

	if err := r.notifications.SetEmailSent(n.ID, time.Now()); err != nil {
		log.Printf("⚠️  Failed to record email delivery for %s: %v", n.ID, err)
	}
	metrics.EmailsSent.WithLabelValues("single").Inc()
	return SendResult{Sent: true}
}

// SendSummary delivers one aggregated scan report to recipients
func (r *EmailRouter) SendSummary(ctx context.Context, findings *ScanFindings, recipients []string) SendResult {
	if !r.sender.Ready() {
		return SendResult{Skipped: true, Reason: "not_configured"}
	}

	to := make([]string, 0, len(recipients))
	for _, addr := range recipients {
		if resolved := r.resolveRecipient(addr); resolved != "" {
			to = append(to, resolved)
		}
	}
	if len(to) == 0 {
		return SendResult{Skipped: true, Reason: "no_recipient"}
	}

	htmlBody, textBody := RenderSummaryEmail(findings)
	msg := email.Message{
		To:      to,
		Subject: fmt.Sprintf("[%s] Pharmacy Inventory Report: %d finding(s)", findings.WorstSeverityTag(), findings.Total()),
		HTML:    htmlBody,
		Text:    textBody,
	}

	if err := r.sendWithTimeout(ctx, msg); err != nil {
		metrics.EmailsFailed.WithLabelValues("aggregated").Inc()
		return SendResult{Err: err}
	}
	metrics.EmailsSent.WithLabelValues("aggregated").Inc()
	return SendResult{Sent: true}
}

// resolveRecipient applies the override map once per send
func (r *EmailRouter) resolveRecipient(addr string) string {
	if r.override == nil {
		return addr
	}
	if replacement, ok := r.override[addr]; ok {
		return replacement
	}
	if replacement, ok := r.override["*"]; ok {
		return replacement
	}
	return addr
}

// sendWithTimeout bounds the blocking SMTP call. net/smtp has no context
// support, so the send runs in a goroutine and the slow path leaks it
// until the dial timeout fires.
func (r *EmailRouter) sendWithTimeout(ctx context.Context, msg email.Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.sender.Send(msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("email send timed out: %w", ctx.Err())
	}
}

func subjectForPriority(n *models.Notification) string {
	switch n.Priority {
	case models.PriorityCritical:
		return "[CRITICAL] " + plainTitle(n)
	case models.PriorityHigh:
		return "[ALERT] " + plainTitle(n)
	default:
		return plainTitle(n)
	}
}

func plainTitle(n *models.Notification) string {
	// Titles are stored HTML-escaped; subjects want the raw text
	return models.Unsanitize(n.Title)
}
