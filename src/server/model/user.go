package models

import (
	"context"
	"database/sql"
	"fmt"
)

// User is the slice of the accounts table the notification core reads
type User struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	Role      string `json:"role"`
}

// UserModel is the SQLite-backed UserSource
type UserModel struct {
	DB *sql.DB
}

// PrimaryNotificationUser picks the single active user who receives
// scanner output, preferring admin over manager over pharmacist.
// Returns nil when no eligible user exists.
func (m *UserModel) PrimaryNotificationUser(ctx context.Context) (*User, error) {
	u := &User{}
	var firstName sql.NullString

	err := m.DB.QueryRowContext(ctx, `
		SELECT id, email, first_name, role FROM users
		WHERE is_active = 1 AND role IN ('admin', 'manager', 'pharmacist')
		ORDER BY CASE role
			WHEN 'admin' THEN 0
			WHEN 'manager' THEN 1
			ELSE 2
		END, id
		LIMIT 1
	`).Scan(&u.ID, &u.Email, &firstName, &u.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve primary notification user: %w", err)
	}

	u.FirstName = firstName.String
	return u, nil
}

// Email returns the address and first name for a user
func (m *UserModel) Email(ctx context.Context, userID int) (string, string, error) {
	var email string
	var firstName sql.NullString

	err := m.DB.QueryRowContext(ctx, `
		SELECT email, first_name FROM users WHERE id = ?
	`, userID).Scan(&email, &firstName)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to look up user email: %w", err)
	}

	return email, firstName.String, nil
}
