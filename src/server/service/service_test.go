package service

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/apimgr/pharmacy/src/database"
	"github.com/apimgr/pharmacy/src/email"
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

func seedUser(t *testing.T, db *sql.DB, email, firstName, role string) int {
	t.Helper()

	result, err := db.Exec(`
		INSERT INTO users (email, first_name, role, is_active) VALUES (?, ?, ?, 1)
	`, email, firstName, role)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read user id: %v", err)
	}
	return int(id)
}

func seedProduct(t *testing.T, db *sql.DB, id, name string, stock, reorder int, expiry interface{}) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO products (id, brand_name, stock_in_pieces, reorder_level, expiry_date, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, id, name, stock, reorder, expiry)
	if err != nil {
		t.Fatalf("Failed to seed product %s: %v", id, err)
	}
}

// fakeSender is an in-memory EmailSender for tests
type fakeSender struct {
	mu    sync.Mutex
	ready bool
	fail  bool
	sent  []email.Message
}

func (f *fakeSender) Ready() bool { return f.ready }

func (f *fakeSender) Send(msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errTestSend
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]email.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

var errTestSend = &testSendError{}

type testSendError struct{}

func (*testSendError) Error() string { return "smtp unavailable" }
