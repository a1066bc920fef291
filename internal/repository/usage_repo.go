package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// SQLiteUsageEventRepository implements UsageEventRepository for SQLite.
// The usage log is append-only: rows are inserted here and reaped by
// DeleteOlderThan, never updated.
type SQLiteUsageEventRepository struct {
	db *sql.DB
}

// NewSQLiteUsageEventRepository creates a new SQLite usage event repository.
func NewSQLiteUsageEventRepository(db *sql.DB) *SQLiteUsageEventRepository {
	return &SQLiteUsageEventRepository{db: db}
}

func (r *SQLiteUsageEventRepository) Create(ctx context.Context, event *models.UsageEvent) error {
	return insertUsageEvent(ctx, r.db, event)
}

func (r *SQLiteUsageEventRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.UsageEvent, error) {
	query := `
		SELECT id, user_id, action, model, generation_id, tokens_used, metadata_json, created_at
		FROM usage_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*models.UsageEvent
	for rows.Next() {
		var event models.UsageEvent
		var model, generationID, metadataJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&event.ID, &event.UserID, &event.Action, &model, &generationID, &event.TokensUsed, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		event.Model = model.String
		if generationID.Valid {
			event.GenerationID = &generationID.String
		}
		event.MetadataJSON = metadataJSON.String
		event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, &event)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes usage events created before the cutoff and returns
// the number of rows deleted.
func (r *SQLiteUsageEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM usage_events WHERE created_at < ?`,
		before.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage events: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

// execer lets insertUsageEvent run against either *sql.DB or *sql.Tx, so the
// settlement transaction can append to the usage log atomically.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertUsageEvent(ctx context.Context, ex execer, event *models.UsageEvent) error {
	query := `
		INSERT INTO usage_events (id, user_id, action, model, generation_id, tokens_used, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ex.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.Action,
		nullString(event.Model),
		nullStringPtr(event.GenerationID),
		event.TokensUsed,
		nullString(event.MetadataJSON),
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}

// newEventID generates a ULID for usage events created inside repository
// transactions (retry and settlement paths).
func newEventID() string {
	return ulid.Make().String()
}
