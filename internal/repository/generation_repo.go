package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// generationColumns is the canonical column list for generation queries.
const generationColumns = `id, user_id, model, status, params_json, cost_tokens, tokens_used,
	external_id, output_keys_json, error_message, retry_count, predict_time,
	started_at, completed_at, created_at, updated_at`

// SQLiteGenerationRepository implements GenerationRepository for SQLite.
type SQLiteGenerationRepository struct {
	db *sql.DB
}

// NewSQLiteGenerationRepository creates a new SQLite generation repository.
func NewSQLiteGenerationRepository(db *sql.DB) *SQLiteGenerationRepository {
	return &SQLiteGenerationRepository{db: db}
}

// Create inserts the generation and its started event in one transaction so
// the usage log never disagrees with the generations table.
func (r *SQLiteGenerationRepository) Create(ctx context.Context, gen *models.Generation, event *models.UsageEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	outputKeys, err := marshalOutputKeys(gen.OutputKeys)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO generations (id, user_id, model, status, params_json, cost_tokens, tokens_used,
			external_id, output_keys_json, error_message, retry_count, predict_time,
			started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		gen.ID,
		gen.UserID,
		gen.Model,
		gen.Status,
		gen.ParamsJSON,
		gen.CostTokens,
		gen.TokensUsed,
		nullString(gen.ExternalID),
		nullString(outputKeys),
		nullString(gen.ErrorMessage),
		gen.RetryCount,
		gen.PredictTime,
		nullTime(gen.StartedAt),
		nullTime(gen.CompletedAt),
		gen.CreatedAt.Format(time.RFC3339),
		gen.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}

	if event != nil {
		if err := insertUsageEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (r *SQLiteGenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	return r.scanGeneration(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteGenerationRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE external_id = ?`
	return r.scanGeneration(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *SQLiteGenerationRepository) GetByUserID(ctx context.Context, userID string, status models.GenerationStatus, limit, offset int) ([]*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := r.scanGenerationFromRows(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func (r *SQLiteGenerationRepository) List(ctx context.Context, limit, offset int) ([]*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := r.scanGenerationFromRows(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func (r *SQLiteGenerationRepository) CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM generations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GenerationStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.GenerationStatus(status)] = count
	}
	return counts, rows.Err()
}

func (r *SQLiteGenerationRepository) ClaimPending(ctx context.Context) (*models.Generation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	// UPDATE ... RETURNING atomically claims and fetches in one statement,
	// which keeps lock contention down when several dispatchers poll.
	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE generations
		SET status = 'processing', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM generations
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING ` + generationColumns

	gen, err := r.scanGeneration(tx.QueryRowContext(ctx, query, now, now))
	if err == sql.ErrNoRows || gen == nil {
		// No pending generations - normal, not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return gen, nil
}

func (r *SQLiteGenerationRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE generations SET external_id = ?, updated_at = ? WHERE id = ?",
		externalID, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set external id: %w", err)
	}
	return nil
}

// Settle applies a terminal transition in a single transaction: the guarded
// status write, the clamped balance debit, and the usage event. The status
// guard is what makes webhook redelivery idempotent - a second terminal
// event matches zero rows and nothing else runs.
func (r *SQLiteGenerationRepository) Settle(ctx context.Context, p SettleParams) (bool, error) {
	if len(p.FromStatuses) == 0 {
		return false, fmt.Errorf("settle requires at least one from status")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	outputKeys, err := marshalOutputKeys(p.OutputKeys)
	if err != nil {
		return false, err
	}

	placeholders := make([]string, len(p.FromStatuses))
	args := []interface{}{}
	now := time.Now().Format(time.RFC3339)
	args = append(args, p.ToStatus, p.TokensUsed, nullString(p.ErrorMessage), nullString(outputKeys), p.PredictTime, now, now, p.GenerationID)
	for i, s := range p.FromStatuses {
		placeholders[i] = "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		UPDATE generations
		SET status = ?, tokens_used = ?, error_message = ?, output_keys_json = ?,
			predict_time = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)
		RETURNING user_id
	`, strings.Join(placeholders, ","))

	var userID string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&userID)
	if err == sql.ErrNoRows {
		// Already settled or not in a settleable state
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to settle generation: %w", err)
	}

	if p.DebitTokens > 0 {
		// MAX() clamps the debit so the balance can never go negative, and
		// doing it in SQL means no stale balance read is involved.
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET token_balance = MAX(0, token_balance - ?),
				total_tokens_used = total_tokens_used + ?,
				updated_at = ?
			WHERE id = ?
		`, p.DebitTokens, p.DebitTokens, now, userID)
		if err != nil {
			return false, fmt.Errorf("failed to debit balance: %w", err)
		}
	}

	if p.Event != nil {
		if err := insertUsageEvent(ctx, tx, p.Event); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return true, nil
}

// Requeue moves a failed generation back to pending, consuming one retry.
// The guard enforces both the failed-only source state and the retry budget.
func (r *SQLiteGenerationRepository) Requeue(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE generations
		SET status = 'pending', retry_count = retry_count + 1,
			error_message = NULL, external_id = NULL, tokens_used = 0,
			predict_time = 0, started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed' AND retry_count < ?
		RETURNING user_id, model, retry_count
	`
	var userID, model string
	var retryCount int
	err = tx.QueryRowContext(ctx, query, now, id, models.MaxRetryCount).Scan(&userID, &model, &retryCount)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to requeue generation: %w", err)
	}

	// A retry is logged as a fresh start so success-rate and popular-model
	// denominators count the new attempt like any other.
	metadata, _ := json.Marshal(map[string]int{"retry_count": retryCount})
	event := &models.UsageEvent{
		ID:           newEventID(),
		UserID:       userID,
		Action:       models.ActionGenerationStarted,
		Model:        model,
		GenerationID: &id,
		MetadataJSON: string(metadata),
		CreatedAt:    time.Now(),
	}
	if err := insertUsageEvent(ctx, tx, event); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return true, nil
}

// Delete removes a generation record outright. The usage log and the token
// ledger are untouched; history of what happened survives the row.
func (r *SQLiteGenerationRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// ListStaleProcessing returns generations stuck in processing since before
// cutoff. Used to fail jobs whose provider webhook never arrived.
func (r *SQLiteGenerationRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE status = 'processing' AND started_at < ?`
	rows, err := r.db.QueryContext(ctx, query, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale generations: %w", err)
	}
	defer rows.Close()

	var gens []*models.Generation
	for rows.Next() {
		gen, err := r.scanGenerationFromRows(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, gen)
	}
	return gens, rows.Err()
}

func (r *SQLiteGenerationRepository) scanGeneration(row *sql.Row) (*models.Generation, error) {
	var gen models.Generation
	var createdAt, updatedAt string
	var externalID, outputKeysJSON, errorMessage sql.NullString
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&gen.ID, &gen.UserID, &gen.Model, &gen.Status, &gen.ParamsJSON,
		&gen.CostTokens, &gen.TokensUsed, &externalID, &outputKeysJSON,
		&errorMessage, &gen.RetryCount, &gen.PredictTime,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation: %w", err)
	}

	populateGeneration(&gen, externalID, outputKeysJSON, errorMessage, startedAt, completedAt, createdAt, updatedAt)
	return &gen, nil
}

func (r *SQLiteGenerationRepository) scanGenerationFromRows(rows *sql.Rows) (*models.Generation, error) {
	var gen models.Generation
	var createdAt, updatedAt string
	var externalID, outputKeysJSON, errorMessage sql.NullString
	var startedAt, completedAt sql.NullString

	err := rows.Scan(
		&gen.ID, &gen.UserID, &gen.Model, &gen.Status, &gen.ParamsJSON,
		&gen.CostTokens, &gen.TokensUsed, &externalID, &outputKeysJSON,
		&errorMessage, &gen.RetryCount, &gen.PredictTime,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan generation: %w", err)
	}

	populateGeneration(&gen, externalID, outputKeysJSON, errorMessage, startedAt, completedAt, createdAt, updatedAt)
	return &gen, nil
}

func populateGeneration(gen *models.Generation, externalID, outputKeysJSON, errorMessage, startedAt, completedAt sql.NullString, createdAt, updatedAt string) {
	gen.ExternalID = externalID.String
	gen.ErrorMessage = errorMessage.String
	if outputKeysJSON.Valid && outputKeysJSON.String != "" {
		json.Unmarshal([]byte(outputKeysJSON.String), &gen.OutputKeys)
	}
	gen.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	gen.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		gen.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		gen.CompletedAt = &t
	}
}

func marshalOutputKeys(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output keys: %w", err)
	}
	return string(data), nil
}

// Helper functions
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
