package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/apimgr/pharmacy/src/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.InitSchema(db); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return db
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(newTestDB(t))

	s.RunNow("test_task", func(ctx context.Context) error {
		return nil
	})

	runs, err := s.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Recorded %d runs, want 1", len(runs))
	}

	run := runs[0]
	if run.TaskName != "test_task" {
		t.Errorf("TaskName = %s, want test_task", run.TaskName)
	}
	if !run.Success {
		t.Error("Successful task should record success")
	}
	if run.FinishedAt == nil {
		t.Error("Expected finished_at set")
	}
	if run.Error != "" {
		t.Errorf("Error = %q, want empty", run.Error)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	s := New(newTestDB(t))

	s.RunNow("failing_task", func(ctx context.Context) error {
		return fmt.Errorf("smtp unreachable")
	})

	runs, err := s.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if runs[0].Success {
		t.Error("Failed task must not record success")
	}
	if runs[0].Error != "smtp unreachable" {
		t.Errorf("Error = %q, want smtp unreachable", runs[0].Error)
	}
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := New(newTestDB(t))

	s.RunNow("panicking_task", func(ctx context.Context) error {
		panic("boom")
	})

	runs, err := s.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if runs[0].Success {
		t.Error("Panicking task must record failure")
	}
	if runs[0].Error != "task panic: boom" {
		t.Errorf("Error = %q, want task panic: boom", runs[0].Error)
	}
}

func TestCleanupHistory(t *testing.T) {
	db := newTestDB(t)
	s := New(db)

	s.RunNow("recent", func(ctx context.Context) error { return nil })
	s.RunNow("old", func(ctx context.Context) error { return nil })

	past := time.Now().UTC().AddDate(0, 0, -100)
	if _, err := db.Exec(`UPDATE scheduler_task_history SET started_at = ? WHERE task_name = 'old'`, past); err != nil {
		t.Fatalf("Failed to backdate: %v", err)
	}

	deleted, err := s.CleanupHistory(90)
	if err != nil {
		t.Fatalf("CleanupHistory failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Deleted %d runs, want 1", deleted)
	}
}

func TestCronSpecForDaily(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"08:00", "0 8 * * *"},
		{"23:59", "59 23 * * *"},
		{"00:00", "0 0 * * *"},
		{"garbage", "0 8 * * *"},
		{"25:00", "0 8 * * *"},
		{"", "0 8 * * *"},
	}

	for _, tt := range tests {
		if got := cronSpecForDaily(tt.input); got != tt.want {
			t.Errorf("cronSpecForDaily(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
