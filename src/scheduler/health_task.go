package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
	"github.com/apimgr/pharmacy/src/server/service"
)

const (
	// dismissedRetentionDays keeps dismissed notifications queryable for
	// a month before the nightly purge
	dismissedRetentionDays = 30
	// cooldownRetention keeps ledger rows well past the longest window
	// (24h) so no live suppression is lost
	cooldownRetention = 7 * 24 * time.Hour
	// historyRetentionDays bounds the task history table
	historyRetentionDays = 90
)

// RegisterNotificationTasks wires the recurring notification work:
// the 15-minute inventory scan, the daily summary email, and the
// nightly cleanup.
func RegisterNotificationTasks(s *Scheduler, health *service.HealthCheckService, notifications *models.NotificationModel, cooldowns *models.CooldownModel, settings *service.SettingsService) error {
	err := s.AddTask("inventory_health_check", "*/15 * * * *", func(ctx context.Context) error {
		result := health.RunHealthChecks(ctx, false)
		if result.Error != "" {
			return fmt.Errorf("health check: %s", result.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The daily summary fires at the configured HH:MM; a time change in
	// settings takes effect after restart. SendDailySummary itself checks
	// the enabled flag, so a disabled report is a cheap no-op.
	dailySpec := cronSpecForDaily(settings.Get().DailyEmailTimeHHMM)
	err = s.AddTask("daily_summary_email", dailySpec, func(ctx context.Context) error {
		return health.SendDailySummary(ctx)
	})
	if err != nil {
		return err
	}

	err = s.AddTask("notification_cleanup", "0 3 * * *", func(ctx context.Context) error {
		purged, err := notifications.CleanupOlderThan(dismissedRetentionDays)
		if err != nil {
			return err
		}
		ledger, err := cooldowns.CleanupOlderThan(cooldownRetention)
		if err != nil {
			return err
		}
		history, err := s.CleanupHistory(historyRetentionDays)
		if err != nil {
			return err
		}
		if purged+ledger+history > 0 {
			log.Printf("🧹 Cleanup: %d notification(s), %d cooldown(s), %d task run(s)", purged, ledger, history)
		}
		return nil
	})
	return err
}

// cronSpecForDaily converts "HH:MM" into a daily cron spec, falling
// back to 08:00 on malformed input
func cronSpecForDaily(hhmm string) string {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) == 2 {
		hour, herr := strconv.Atoi(parts[0])
		minute, merr := strconv.Atoi(parts[1])
		if herr == nil && merr == nil && hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 {
			return fmt.Sprintf("%d %d * * *", minute, hour)
		}
	}
	return "0 8 * * *"
}
