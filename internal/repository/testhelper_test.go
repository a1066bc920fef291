package repository

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pixelmint/pixelmint-api/internal/database/migrations"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) (*Repositories, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db), db
}

// InsertTestUser is a helper to insert a user with a given token balance.
func InsertTestUser(t *testing.T, db *sql.DB, id, email string, balance int) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO users (id, email, tier, token_balance, total_tokens_purchased, total_tokens_used, created_at, updated_at)
		VALUES (?, ?, 'free', ?, ?, 0, ?, ?)
	`
	if _, err := db.Exec(query, id, email, balance, balance, now, now); err != nil {
		t.Fatalf("failed to insert test user: %v", err)
	}
}

// InsertTestGeneration is a helper to insert a generation directly.
func InsertTestGeneration(t *testing.T, db *sql.DB, id, userID, status string, costTokens int) {
	t.Helper()
	InsertTestGenerationAt(t, db, id, userID, status, costTokens, time.Now().UTC())
}

// InsertTestGenerationAt inserts a generation with an explicit creation time,
// useful for exercising oldest-first claiming and windowed metrics.
func InsertTestGenerationAt(t *testing.T, db *sql.DB, id, userID, status string, costTokens int, createdAt time.Time) {
	t.Helper()
	ts := createdAt.UTC().Format(time.RFC3339)
	query := `
		INSERT INTO generations (id, user_id, model, status, params_json, cost_tokens, created_at, updated_at)
		VALUES (?, ?, 'sdxl', ?, '{"prompt":"test"}', ?, ?, ?)
	`
	if _, err := db.Exec(query, id, userID, status, costTokens, ts, ts); err != nil {
		t.Fatalf("failed to insert test generation: %v", err)
	}
}

// InsertTestUsageEvent is a helper to insert a usage event directly.
func InsertTestUsageEvent(t *testing.T, db *sql.DB, id, userID, action, model string, tokens int, createdAt time.Time) {
	t.Helper()
	query := `
		INSERT INTO usage_events (id, user_id, action, model, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := db.Exec(query, id, userID, action, nullString(model), tokens, createdAt.UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("failed to insert test usage event: %v", err)
	}
}

// getTestBalance reads a user's current token balance directly.
func getTestBalance(t *testing.T, db *sql.DB, userID string) int {
	t.Helper()
	var balance int
	if err := db.QueryRow(`SELECT token_balance FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		t.Fatalf("failed to read balance: %v", err)
	}
	return balance
}

// countTestEvents counts usage events for a user and action.
func countTestEvents(t *testing.T, db *sql.DB, userID, action string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND action = ?`, userID, action).Scan(&count); err != nil {
		t.Fatalf("failed to count usage events: %v", err)
	}
	return count
}
