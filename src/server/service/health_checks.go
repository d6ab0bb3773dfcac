package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/apimgr/pharmacy/src/server/metrics"
	"github.com/apimgr/pharmacy/src/server/model"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// localDebounce suppresses repeat full scans within one process
	localDebounce = 15 * time.Minute
	// subCheckTimeout bounds each product query + dispatch loop
	subCheckTimeout = 30 * time.Second
	// expiryWindowDays is the look-ahead for the expiry check
	expiryWindowDays = 30

	primaryUserCacheKey = "primary_notification_user"
)

// CheckOutcome reports one sub-check of a run
type CheckOutcome struct {
	Ran                  bool   `json:"ran"`
	NotificationsCreated int    `json:"notifications_created"`
	Error                string `json:"error,omitempty"`
}

// HealthCheckResult reports one RunHealthChecks call
type HealthCheckResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`

	LowStock   CheckOutcome `json:"low_stock"`
	OutOfStock CheckOutcome `json:"out_of_stock"`
	Expiring   CheckOutcome `json:"expiring"`

	TotalNotifications int    `json:"total_notifications"`
	EmailAttempted     bool   `json:"email_attempted"`
	EmailSent          bool   `json:"email_sent"`
	Error              string `json:"error,omitempty"`

	Findings *ScanFindings `json:"-"`
}

// HealthCheckService scans the catalog for low stock, out of stock, and
// approaching expiry, dispatching notifications through the
// NotificationService and one aggregated email per run.
type HealthCheckService struct {
	products      ProductSource
	users         UserSource
	notifications *NotificationService
	router        *EmailRouter
	schedule      *models.ScanScheduleModel
	settings      *SettingsService

	// runMu serializes runs; a second caller waits, then the debounce
	// usually skips it
	runMu sync.Mutex

	// mu guards the in-process debounce timestamps
	mu          sync.Mutex
	lastFullRun time.Time
	lastSubRun  map[string]time.Time

	userCache *gocache.Cache

	// now is swapped in tests
	now func() time.Time
}

// NewHealthCheckService wires the scanner
func NewHealthCheckService(products ProductSource, users UserSource, notifications *NotificationService, router *EmailRouter, schedule *models.ScanScheduleModel, settings *SettingsService) *HealthCheckService {
	return &HealthCheckService{
		products:      products,
		users:         users,
		notifications: notifications,
		router:        router,
		schedule:      schedule,
		settings:      settings,
		lastSubRun:    make(map[string]time.Time),
		userCache:     gocache.New(5*time.Minute, 10*time.Minute),
		now:           time.Now,
	}
}

// RunHealthChecks executes a full scan unless debounced. force bypasses
// both the local and the durable debounce. The out-of-stock check runs
// on every non-skipped scan regardless of its configured interval.
func (s *HealthCheckService) RunHealthChecks(ctx context.Context, force bool) *HealthCheckResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	result := &HealthCheckResult{}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("health check panic: %v", r)
			log.Printf("❌ %s", msg)
			result.Error = msg
			metrics.ScansFailed.Inc()
			if err := s.schedule.RecordRun(models.CheckTypeAll, result.TotalNotifications, msg); err != nil {
				log.Printf("⚠️  Failed to record scan failure: %v", err)
			}
			s.reportScanFailure(ctx, msg)
		}
	}()

	now := s.now()
	if !force {
		s.mu.Lock()
		last := s.lastFullRun
		s.mu.Unlock()
		if !last.IsZero() && now.Sub(last) < localDebounce {
			result.Skipped = true
			result.Reason = "local debounce"
			return result
		}

		due, err := s.schedule.ShouldRun(models.CheckTypeAll, localDebounce)
		if err != nil {
			log.Printf("⚠️  Scan schedule read failed, proceeding: %v", err)
		} else if !due {
			result.Skipped = true
			result.Reason = "durable debounce"
			return result
		}
	}

	s.mu.Lock()
	s.lastFullRun = now
	s.mu.Unlock()

	user, err := s.primaryUser(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("failed to resolve recipient: %v", err)
		metrics.ScansFailed.Inc()
		s.recordAll(result)
		return result
	}
	if user == nil {
		result.Skipped = true
		result.Reason = "no eligible recipient"
		s.recordAll(result)
		return result
	}

	settings := s.settings.Get()
	metrics.ScansRun.Inc()
	log.Printf("🔍 Running inventory health checks (user %d)", user.ID)

	findings := &ScanFindings{RanAt: now}
	var findingsMu sync.Mutex

	runLow := force || s.subCheckDue(models.CheckTypeLowStock, time.Duration(settings.LowStockCheckIntervalMin)*time.Minute, now)
	runExpiry := force || s.subCheckDue(models.CheckTypeExpiring, time.Duration(settings.ExpiringCheckIntervalMin)*time.Minute, now)

	var wg sync.WaitGroup

	// Out of stock is the most urgent signal and always runs
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome := s.checkOutOfStock(ctx, user.ID, findings, &findingsMu)
		result.OutOfStock = outcome
		s.recordSub(models.CheckTypeOutOfStock, outcome)
	}()

	if runLow {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := s.checkLowStock(ctx, user.ID, findings, &findingsMu)
			result.LowStock = outcome
			s.recordSub(models.CheckTypeLowStock, outcome)
		}()
	}

	if runExpiry {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := s.checkExpiring(ctx, user.ID, findings, &findingsMu)
			result.Expiring = outcome
			s.recordSub(models.CheckTypeExpiring, outcome)
		}()
	}

	wg.Wait()

	result.TotalNotifications = result.LowStock.NotificationsCreated +
		result.OutOfStock.NotificationsCreated +
		result.Expiring.NotificationsCreated
	result.Findings = findings

	if result.TotalNotifications > 0 && settings.EmailAlertsEnabled {
		result.EmailAttempted = true
		sent := s.router.SendSummary(ctx, findings, []string{user.Email})
		result.EmailSent = sent.Sent
		if sent.Err != nil {
			log.Printf("⚠️  Scan summary email failed: %v", sent.Err)
		}
	}

	s.recordAll(result)
	log.Printf("✅ Health checks done: %d notification(s), %d finding(s)",
		result.TotalNotifications, findings.Total())
	return result
}

// SendDailySummary emails the current inventory state without creating
// notifications. Used by the scheduled daily report.
func (s *HealthCheckService) SendDailySummary(ctx context.Context) error {
	settings := s.settings.Get()
	if !settings.DailyEmailEnabled {
		return nil
	}

	findings, err := s.collectFindings(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect daily summary: %w", err)
	}

	recipients := settings.DailyEmailRecipients
	if len(recipients) == 0 {
		user, err := s.primaryUser(ctx)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
		recipients = []string{user.Email}
	}

	result := s.router.SendSummary(ctx, findings, recipients)
	if result.Err != nil {
		return result.Err
	}
	return nil
}

// Status returns the durable schedule entries for all check types
func (s *HealthCheckService) Status() (map[string]*models.ScanScheduleEntry, error) {
	out := make(map[string]*models.ScanScheduleEntry, 4)
	for _, checkType := range []string{models.CheckTypeAll, models.CheckTypeLowStock, models.CheckTypeExpiring, models.CheckTypeOutOfStock} {
		entry, err := s.schedule.Get(checkType)
		if err != nil {
			return nil, err
		}
		out[checkType] = entry
	}
	return out, nil
}

// EffectiveReorderLevel is the low-stock threshold: the configured
// reorder level when set, otherwise 20% of current stock with a floor
// of 5 pieces
func EffectiveReorderLevel(p *models.Product) int {
	if p.ReorderLevel > 0 {
		return p.ReorderLevel
	}
	derived := p.StockInPieces * 20 / 100
	if derived < 5 {
		derived = 5
	}
	return derived
}

// CriticalThreshold is the escalation boundary under the reorder level:
// half the effective level, but never below min(5, level)
func CriticalThreshold(effectiveReorder int) int {
	threshold := effectiveReorder / 2
	floor := effectiveReorder
	if floor > 5 {
		floor = 5
	}
	if threshold < floor {
		threshold = floor
	}
	return threshold
}

func (s *HealthCheckService) checkLowStock(ctx context.Context, userID int, findings *ScanFindings, mu *sync.Mutex) CheckOutcome {
	ctx, cancel := context.WithTimeout(ctx, subCheckTimeout)
	defer cancel()

	outcome := CheckOutcome{Ran: true}
	products, err := s.products.ListInStock(ctx)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	for i := range products {
		p := &products[i]
		threshold := EffectiveReorderLevel(p)
		if p.StockInPieces > threshold {
			continue
		}

		critical := p.StockInPieces <= CriticalThreshold(threshold)
		var res *CreateResult
		if critical {
			res, err = s.notifications.NotifyCriticalStock(ctx, userID, p.ID, p.DisplayName(), p.StockInPieces, threshold, true)
		} else {
			res, err = s.notifications.NotifyLowStock(ctx, userID, p.ID, p.DisplayName(), p.StockInPieces, threshold, true)
		}
		if err != nil {
			log.Printf("⚠️  Low stock dispatch failed for %s: %v", p.ID, err)
			continue
		}
		if res.Suppressed {
			continue
		}
		outcome.NotificationsCreated++

		mu.Lock()
		findings.LowStock = append(findings.LowStock, StockFinding{
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			Stock:       p.StockInPieces,
			Threshold:   threshold,
			Critical:    critical,
		})
		mu.Unlock()
	}
	return outcome
}

func (s *HealthCheckService) checkOutOfStock(ctx context.Context, userID int, findings *ScanFindings, mu *sync.Mutex) CheckOutcome {
	ctx, cancel := context.WithTimeout(ctx, subCheckTimeout)
	defer cancel()

	outcome := CheckOutcome{Ran: true}
	products, err := s.products.ListOutOfStock(ctx)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	for i := range products {
		p := &products[i]
		res, err := s.notifications.NotifyOutOfStock(ctx, userID, p.ID, p.DisplayName(), true)
		if err != nil {
			log.Printf("⚠️  Out of stock dispatch failed for %s: %v", p.ID, err)
			continue
		}
		if res.Suppressed {
			continue
		}
		outcome.NotificationsCreated++

		mu.Lock()
		findings.OutOfStock = append(findings.OutOfStock, StockFinding{
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			Critical:    true,
		})
		mu.Unlock()
	}
	return outcome
}

func (s *HealthCheckService) checkExpiring(ctx context.Context, userID int, findings *ScanFindings, mu *sync.Mutex) CheckOutcome {
	ctx, cancel := context.WithTimeout(ctx, subCheckTimeout)
	defer cancel()

	outcome := CheckOutcome{Ran: true}
	products, err := s.products.ListExpiringWithin(ctx, expiryWindowDays)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	today := dateOnly(s.now().UTC())
	for i := range products {
		p := &products[i]
		if p.ExpiryDate == nil {
			continue
		}
		daysLeft := int(dateOnly(*p.ExpiryDate).Sub(today).Hours() / 24)

		res, err := s.notifications.NotifyExpiringSoon(ctx, userID, p.ID, p.DisplayName(), *p.ExpiryDate, daysLeft, true)
		if err != nil {
			log.Printf("⚠️  Expiry dispatch failed for %s: %v", p.ID, err)
			continue
		}
		if res.Suppressed {
			continue
		}
		outcome.NotificationsCreated++

		mu.Lock()
		findings.Expiring = append(findings.Expiring, ExpiryFinding{
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			ExpiryDate:  *p.ExpiryDate,
			DaysLeft:    daysLeft,
		})
		mu.Unlock()
	}
	return outcome
}

// collectFindings inspects the catalog without dispatching notifications
func (s *HealthCheckService) collectFindings(ctx context.Context) (*ScanFindings, error) {
	findings := &ScanFindings{RanAt: s.now()}

	outOfStock, err := s.products.ListOutOfStock(ctx)
	if err != nil {
		return nil, err
	}
	for i := range outOfStock {
		p := &outOfStock[i]
		findings.OutOfStock = append(findings.OutOfStock, StockFinding{
			ProductID: p.ID, ProductName: p.DisplayName(), Critical: true,
		})
	}

	inStock, err := s.products.ListInStock(ctx)
	if err != nil {
		return nil, err
	}
	for i := range inStock {
		p := &inStock[i]
		threshold := EffectiveReorderLevel(p)
		if p.StockInPieces > threshold {
			continue
		}
		findings.LowStock = append(findings.LowStock, StockFinding{
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			Stock:       p.StockInPieces,
			Threshold:   threshold,
			Critical:    p.StockInPieces <= CriticalThreshold(threshold),
		})
	}

	expiring, err := s.products.ListExpiringWithin(ctx, expiryWindowDays)
	if err != nil {
		return nil, err
	}
	today := dateOnly(s.now().UTC())
	for i := range expiring {
		p := &expiring[i]
		if p.ExpiryDate == nil {
			continue
		}
		findings.Expiring = append(findings.Expiring, ExpiryFinding{
			ProductID:   p.ID,
			ProductName: p.DisplayName(),
			ExpiryDate:  *p.ExpiryDate,
			DaysLeft:    int(dateOnly(*p.ExpiryDate).Sub(today).Hours() / 24),
		})
	}

	return findings, nil
}

func (s *HealthCheckService) subCheckDue(checkType string, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	last, seen := s.lastSubRun[checkType]
	s.mu.Unlock()
	if seen && now.Sub(last) < interval {
		return false
	}

	due, err := s.schedule.ShouldRun(checkType, interval)
	if err != nil {
		log.Printf("⚠️  Schedule read for %s failed, proceeding: %v", checkType, err)
		return true
	}
	return due
}

func (s *HealthCheckService) recordSub(checkType string, outcome CheckOutcome) {
	s.mu.Lock()
	s.lastSubRun[checkType] = s.now()
	s.mu.Unlock()

	if err := s.schedule.RecordRun(checkType, outcome.NotificationsCreated, outcome.Error); err != nil {
		log.Printf("⚠️  Failed to record %s run: %v", checkType, err)
	}
}

func (s *HealthCheckService) recordAll(result *HealthCheckResult) {
	if err := s.schedule.RecordRun(models.CheckTypeAll, result.TotalNotifications, result.Error); err != nil {
		log.Printf("⚠️  Failed to record scan run: %v", err)
	}
}

// primaryUser resolves and briefly caches the scan recipient
func (s *HealthCheckService) primaryUser(ctx context.Context) (*models.User, error) {
	if cached, ok := s.userCache.Get(primaryUserCacheKey); ok {
		return cached.(*models.User), nil
	}
	user, err := s.users.PrimaryNotificationUser(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		s.userCache.Set(primaryUserCacheKey, user, gocache.DefaultExpiration)
	}
	return user, nil
}

// reportScanFailure surfaces a broken scan as a notification, best effort
func (s *HealthCheckService) reportScanFailure(ctx context.Context, msg string) {
	user, err := s.primaryUser(ctx)
	if err != nil || user == nil {
		return
	}
	if _, err := s.notifications.NotifySystemError(ctx, user.ID, "Inventory Scan Failed", msg); err != nil {
		log.Printf("⚠️  Failed to report scan failure: %v", err)
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
