package models

import (
	"database/sql"
	"fmt"
	"time"
)

// CooldownModel handles the dedup ledger. A (user_id, notification_key)
// pair may emit at most once per cooldown window.
type CooldownModel struct {
	DB *sql.DB
}

// ShouldSend atomically decides whether a notification keyed by
// (userID, key) may be emitted, and on a true decision records the
// emission. The decide+record pair is one conditional upsert: two
// concurrent calls with the same key cannot both pass. The caller's
// window governs the decision, so an alert escalating to a shorter
// cooldown is not held back by the window recorded earlier.
func (m *CooldownModel) ShouldSend(userID int, key string, cooldownHours int) (bool, error) {
	now := time.Now().Unix()

	result, err := m.DB.Exec(`
		INSERT INTO notification_cooldowns (user_id, notification_key, last_sent_at, cooldown_hours)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, notification_key) DO UPDATE SET
			last_sent_at = excluded.last_sent_at,
			cooldown_hours = excluded.cooldown_hours
		WHERE excluded.last_sent_at - notification_cooldowns.last_sent_at >=
			excluded.cooldown_hours * 3600
	`, userID, key, now, cooldownHours)
	if err != nil {
		return false, fmt.Errorf("failed to upsert cooldown ledger: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	// Insert or conditional update touched the row iff emission is allowed
	return affected > 0, nil
}

// LastSentAt returns the ledger entry for (userID, key), or ok=false
// when none exists
func (m *CooldownModel) LastSentAt(userID int, key string) (time.Time, int, bool, error) {
	var lastSent int64
	var hours int
	err := m.DB.QueryRow(`
		SELECT last_sent_at, cooldown_hours FROM notification_cooldowns
		WHERE user_id = ? AND notification_key = ?
	`, userID, key).Scan(&lastSent, &hours)
	if err == sql.ErrNoRows {
		return time.Time{}, 0, false, nil
	}
	if err != nil {
		return time.Time{}, 0, false, err
	}
	return time.Unix(lastSent, 0), hours, true, nil
}

// CleanupOlderThan purges ledger rows whose last emission is older than
// the given duration
func (m *CooldownModel) CleanupOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	result, err := m.DB.Exec(`
		DELETE FROM notification_cooldowns WHERE last_sent_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup cooldown ledger: %w", err)
	}
	return result.RowsAffected()
}
