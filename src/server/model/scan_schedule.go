package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Check types recorded in the scan schedule ledger
const (
	CheckTypeAll        = "all"
	CheckTypeLowStock   = "low_stock"
	CheckTypeExpiring   = "expiring"
	CheckTypeOutOfStock = "out_of_stock"
)

// ScanScheduleEntry is the durable record of the last scan per check type
type ScanScheduleEntry struct {
	CheckType                string     `json:"check_type"`
	LastRunAt                *time.Time `json:"last_run_at"`
	LastNotificationsCreated int        `json:"last_notifications_created"`
	LastError                *string    `json:"last_error"`
}

// ScanScheduleModel handles the durable scan schedule ledger
type ScanScheduleModel struct {
	DB *sql.DB
}

// ShouldRun reports whether checkType is due: no record yet, or at least
// interval has elapsed since the last run
func (m *ScanScheduleModel) ShouldRun(checkType string, interval time.Duration) (bool, error) {
	var lastRun sql.NullTime
	err := m.DB.QueryRow(`
		SELECT last_run_at FROM scan_schedule WHERE check_type = ?
	`, checkType).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read scan schedule: %w", err)
	}
	if !lastRun.Valid {
		return true, nil
	}
	return time.Since(lastRun.Time) >= interval, nil
}

// RecordRun upserts the schedule row for checkType. Pass errMsg="" on
// success; every attempt is recorded, success or failure.
func (m *ScanScheduleModel) RecordRun(checkType string, notificationsCreated int, errMsg string) error {
	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	_, err := m.DB.Exec(`
		INSERT INTO scan_schedule (check_type, last_run_at, last_notifications_created, last_error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(check_type) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_notifications_created = excluded.last_notifications_created,
			last_error = excluded.last_error
	`, checkType, time.Now().UTC(), notificationsCreated, lastError)
	if err != nil {
		return fmt.Errorf("failed to record scan run: %w", err)
	}
	return nil
}

// Get returns the schedule entry for checkType, or nil when none exists
func (m *ScanScheduleModel) Get(checkType string) (*ScanScheduleEntry, error) {
	entry := &ScanScheduleEntry{CheckType: checkType}
	var lastRun sql.NullTime
	var lastError sql.NullString

	err := m.DB.QueryRow(`
		SELECT last_run_at, last_notifications_created, last_error
		FROM scan_schedule WHERE check_type = ?
	`, checkType).Scan(&lastRun, &entry.LastNotificationsCreated, &lastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lastRun.Valid {
		entry.LastRunAt = &lastRun.Time
	}
	if lastError.Valid {
		entry.LastError = &lastError.String
	}
	return entry, nil
}
