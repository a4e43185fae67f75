// Package tests holds end-to-end tests that need a real Postgres. They skip
// when DATABASE_URL is unset.
package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateTables empties every table for a clean test state.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE messages, chatrooms, subscriptions, otp_challenges, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
