package database

import (
	"database/sql"
	"fmt"
)

// InitSchema creates all tables used by the notification core.
// Statements are idempotent so startup can run them unconditionally.
func InitSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('error', 'warning', 'success', 'info')),
			priority INTEGER NOT NULL CHECK(priority BETWEEN 1 AND 5),
			category TEXT NOT NULL CHECK(category IN ('inventory', 'expiry', 'sales', 'system', 'general')),
			metadata_json TEXT,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			read_at DATETIME,
			dismissed_at DATETIME,
			email_sent BOOLEAN NOT NULL DEFAULT 0,
			email_sent_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user
			ON notifications(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_unread
			ON notifications(user_id, is_read) WHERE dismissed_at IS NULL`,

		// last_sent_at is unix seconds so the conditional upsert in the
		// cooldown model can compare against cooldown_hours in SQL
		`CREATE TABLE IF NOT EXISTS notification_cooldowns (
			user_id INTEGER NOT NULL,
			notification_key TEXT NOT NULL,
			last_sent_at INTEGER NOT NULL,
			cooldown_hours INTEGER NOT NULL,
			PRIMARY KEY (user_id, notification_key)
		)`,

		`CREATE TABLE IF NOT EXISTS scan_schedule (
			check_type TEXT PRIMARY KEY CHECK(check_type IN ('all', 'low_stock', 'expiring', 'out_of_stock')),
			last_run_at DATETIME,
			last_notifications_created INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS scheduler_task_history (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			success BOOLEAN NOT NULL DEFAULT 0,
			error TEXT
		)`,

		// Domain tables consumed through the ProductSource / UserSource
		// ports; their CRUD lives outside the notification core.
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			brand_name TEXT,
			generic_name TEXT,
			stock_in_pieces INTEGER NOT NULL DEFAULT 0,
			reorder_level INTEGER NOT NULL DEFAULT 0,
			expiry_date DATE,
			is_active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT,
			role TEXT NOT NULL CHECK(role IN ('admin', 'manager', 'pharmacist', 'cashier')),
			is_active BOOLEAN NOT NULL DEFAULT 1
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}
