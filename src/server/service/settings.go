package service

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NotificationSettings is the value object the scanner and scheduler
// consume. Changes land in the settings table and become visible on the
// next read after the cache TTL; no live reload is required.
type NotificationSettings struct {
	LowStockCheckIntervalMin   int
	ExpiringCheckIntervalMin   int
	OutOfStockCheckIntervalMin int
	EmailAlertsEnabled         bool
	DailyEmailEnabled          bool
	DailyEmailTimeHHMM         string
	DailyEmailRecipients       []string
}

// DefaultNotificationSettings returns the documented defaults
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		LowStockCheckIntervalMin:   60,
		ExpiringCheckIntervalMin:   360,
		OutOfStockCheckIntervalMin: 30,
		EmailAlertsEnabled:         true,
		DailyEmailEnabled:          false,
		DailyEmailTimeHHMM:         "08:00",
	}
}

const settingsCacheKey = "notification_settings"

// SettingsService reads notification settings from the settings table,
// caching results briefly so scanner runs stay cheap
type SettingsService struct {
	db    *sql.DB
	cache *gocache.Cache
}

// NewSettingsService creates a settings reader with a 1-minute cache
func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{
		db:    db,
		cache: gocache.New(time.Minute, 5*time.Minute),
	}
}

// Get returns the current notification settings, falling back to the
// defaults for any key the table does not hold
func (s *SettingsService) Get() NotificationSettings {
	if cached, ok := s.cache.Get(settingsCacheKey); ok {
		return cached.(NotificationSettings)
	}

	settings := DefaultNotificationSettings()

	intKeys := map[string]*int{
		"notifications.low_stock_check_interval_min":    &settings.LowStockCheckIntervalMin,
		"notifications.expiring_check_interval_min":     &settings.ExpiringCheckIntervalMin,
		"notifications.out_of_stock_check_interval_min": &settings.OutOfStockCheckIntervalMin,
	}
	for key, ptr := range intKeys {
		if value, ok := s.lookup(key); ok {
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				*ptr = n
			}
		}
	}

	boolKeys := map[string]*bool{
		"notifications.email_alerts_enabled": &settings.EmailAlertsEnabled,
		"notifications.daily_email_enabled":  &settings.DailyEmailEnabled,
	}
	for key, ptr := range boolKeys {
		if value, ok := s.lookup(key); ok {
			*ptr = value == "true" || value == "1"
		}
	}

	if value, ok := s.lookup("notifications.daily_email_time"); ok && value != "" {
		settings.DailyEmailTimeHHMM = value
	}
	if value, ok := s.lookup("notifications.daily_email_recipients"); ok && value != "" {
		for _, addr := range strings.Split(value, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				settings.DailyEmailRecipients = append(settings.DailyEmailRecipients, addr)
			}
		}
	}

	s.cache.Set(settingsCacheKey, settings, gocache.DefaultExpiration)
	return settings
}

// Invalidate drops the cached settings so the next Get re-reads the table
func (s *SettingsService) Invalidate() {
	s.cache.Delete(settingsCacheKey)
}

func (s *SettingsService) lookup(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}
