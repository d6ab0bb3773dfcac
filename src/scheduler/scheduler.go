// Package scheduler runs the recurring background tasks on cron
// schedules, recording every run in the task history table.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskRun is one recorded execution of a scheduled task
type TaskRun struct {
	ID         string     `json:"id"`
	TaskName   string     `json:"task_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// TaskFunc is one schedulable unit of work
type TaskFunc func(ctx context.Context) error

// Scheduler wraps cron with per-run history records
type Scheduler struct {
	cron *cron.Cron
	db   *sql.DB
}

// New creates a scheduler. Panicking tasks are recovered and recorded
// as failed runs.
func New(db *sql.DB) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		db:   db,
	}
}

// AddTask registers fn under name on the given cron spec
func (s *Scheduler) AddTask(name, spec string, fn TaskFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runTask(name, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}
	log.Printf("⏰ Scheduled task %s (%s)", name, spec)
	return nil
}

// Start begins running scheduled tasks
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("⏰ Scheduler started")
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("⏰ Scheduler stopped")
}

// RunNow executes a task immediately, outside its schedule
func (s *Scheduler) RunNow(name string, fn TaskFunc) {
	s.runTask(name, fn)
}

func (s *Scheduler) runTask(name string, fn TaskFunc) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC()

	if _, err := s.db.Exec(`
		INSERT INTO scheduler_task_history (id, task_name, started_at, success)
		VALUES (?, ?, ?, 0)
	`, runID, name, startedAt); err != nil {
		log.Printf("⚠️  Failed to record task start for %s: %v", name, err)
	}

	var taskErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				taskErr = fmt.Errorf("task panic: %v", r)
			}
		}()
		taskErr = fn(context.Background())
	}()

	finishedAt := time.Now().UTC()
	success := 1
	errMsg := ""
	if taskErr != nil {
		success = 0
		errMsg = taskErr.Error()
		log.Printf("❌ Task %s failed: %v", name, taskErr)
	}

	if _, err := s.db.Exec(`
		UPDATE scheduler_task_history SET finished_at = ?, success = ?, error = ?
		WHERE id = ?
	`, finishedAt, success, nullable(errMsg), runID); err != nil {
		log.Printf("⚠️  Failed to record task finish for %s: %v", name, err)
	}
}

// History returns the most recent task runs, newest first
func (s *Scheduler) History(limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, task_name, started_at, finished_at, success, error
		FROM scheduler_task_history
		ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read task history: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		var run TaskRun
		var finishedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.TaskName, &run.StartedAt, &finishedAt, &run.Success, &errMsg); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CleanupHistory deletes task runs older than days
func (s *Scheduler) CleanupHistory(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result, err := s.db.Exec(`
		DELETE FROM scheduler_task_history WHERE started_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup task history: %w", err)
	}
	return result.RowsAffected()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
