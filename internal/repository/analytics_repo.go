package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// UsageAnalytics represents aggregated usage statistics over a window.
type UsageAnalytics struct {
	TotalEvents  int            `json:"total_events"`
	Started      int            `json:"started"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	Cancelled    int            `json:"cancelled"`
	TokensSpent  int            `json:"tokens_spent"`
	ActiveUsers  int            `json:"active_users"`
	SuccessRate  float64        `json:"success_rate"` // completed / started * 100
	ActionCounts map[string]int `json:"action_counts"`
	DailyCounts  []DailyCount   `json:"daily_counts"`
}

// DailyCount is the number of usage events recorded on one day.
type DailyCount struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Events int    `json:"events"`
}

// GenerationMetrics represents performance statistics for completed generations.
type GenerationMetrics struct {
	TotalGenerations     int     `json:"total_generations"`
	CompletedGenerations int     `json:"completed_generations"`
	AvgPredictTime       float64 `json:"avg_predict_time"`   // provider-reported seconds, rounded to whole seconds
	TotalPredictTime     float64 `json:"total_predict_time"` // provider-reported seconds
	AvgDurationSeconds   float64 `json:"avg_duration_seconds"` // rounded to whole seconds
}

// PopularModel represents a model ranked by how often it is used.
type PopularModel struct {
	Model       string `json:"model"`
	Generations int    `json:"generations"`
	TokensSpent int    `json:"tokens_spent"`
}

// UserActivitySummary represents one user's activity over the trailing window.
type UserActivitySummary struct {
	UserID       string     `json:"user_id"`
	Started      int        `json:"started"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	TokensSpent  int        `json:"tokens_spent"`
	SuccessRate  float64    `json:"success_rate"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// SQLiteAnalyticsRepository implements analytics queries for SQLite.
// Aggregates read the append-only usage_events log, so counts reflect what
// actually happened rather than the current state of the generations table.
type SQLiteAnalyticsRepository struct {
	db *sql.DB
}

// NewSQLiteAnalyticsRepository creates a new analytics repository.
func NewSQLiteAnalyticsRepository(db *sql.DB) *SQLiteAnalyticsRepository {
	return &SQLiteAnalyticsRepository{db: db}
}

// GetUsageAnalytics returns aggregated usage statistics for the given window.
// Pass an empty userID to aggregate across all users.
func (r *SQLiteAnalyticsRepository) GetUsageAnalytics(ctx context.Context, userID, startDate, endDate string) (*UsageAnalytics, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN action = 'generation_completed' THEN tokens_used ELSE 0 END), 0) as tokens_spent,
			COUNT(DISTINCT user_id) as active_users
		FROM usage_events
		WHERE created_at >= ? AND created_at < ?
	`
	args := []interface{}{startDate, endDate}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	var analytics UsageAnalytics
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&analytics.TotalEvents,
		&analytics.TokensSpent,
		&analytics.ActiveUsers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage analytics: %w", err)
	}

	analytics.ActionCounts, err = r.actionCounts(ctx, userID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	analytics.Started = analytics.ActionCounts["generation_started"]
	analytics.Completed = analytics.ActionCounts["generation_completed"]
	analytics.Failed = analytics.ActionCounts["generation_failed"]
	analytics.Cancelled = analytics.ActionCounts["generation_cancelled"]
	analytics.SuccessRate = successRate(analytics.Completed, analytics.Started)

	analytics.DailyCounts, err = r.dailyCounts(ctx, userID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	return &analytics, nil
}

func (r *SQLiteAnalyticsRepository) actionCounts(ctx context.Context, userID, startDate, endDate string) (map[string]int, error) {
	query := `
		SELECT action, COUNT(*)
		FROM usage_events
		WHERE created_at >= ? AND created_at < ?
	`
	args := []interface{}{startDate, endDate}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY action`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by action: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[action] = count
	}
	return counts, rows.Err()
}

func (r *SQLiteAnalyticsRepository) dailyCounts(ctx context.Context, userID, startDate, endDate string) ([]DailyCount, error) {
	query := `
		SELECT date(created_at) as day, COUNT(*)
		FROM usage_events
		WHERE created_at >= ? AND created_at < ?
	`
	args := []interface{}{startDate, endDate}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY day ORDER BY day ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by day: %w", err)
	}
	defer rows.Close()

	var daily []DailyCount
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Date, &d.Events); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		daily = append(daily, d)
	}
	return daily, rows.Err()
}

// successRate is completed/started as a percentage, capped inside [0, 100].
// A completion whose start fell before the window can push the raw ratio
// past 100; the cap keeps the aggregate honest.
func successRate(completed, started int) float64 {
	if started <= 0 {
		return 0
	}
	rate := float64(completed) / float64(started) * 100
	if rate > 100 {
		return 100
	}
	return rate
}

// GetGenerationMetrics returns performance statistics for the given window.
func (r *SQLiteAnalyticsRepository) GetGenerationMetrics(ctx context.Context, startDate, endDate string) (*GenerationMetrics, error) {
	query := `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) as completed,
			COALESCE(AVG(CASE WHEN status = 'completed' THEN predict_time END), 0) as avg_predict_time,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN predict_time ELSE 0 END), 0) as total_predict_time,
			COALESCE(AVG(CASE WHEN status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
				THEN (julianday(completed_at) - julianday(started_at)) * 86400.0 END), 0) as avg_duration
		FROM generations
		WHERE created_at >= ? AND created_at < ?
	`
	var metrics GenerationMetrics
	err := r.db.QueryRowContext(ctx, query, startDate, endDate).Scan(
		&metrics.TotalGenerations,
		&metrics.CompletedGenerations,
		&metrics.AvgPredictTime,
		&metrics.TotalPredictTime,
		&metrics.AvgDurationSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get generation metrics: %w", err)
	}
	metrics.AvgPredictTime = math.Round(metrics.AvgPredictTime)
	metrics.AvgDurationSeconds = math.Round(metrics.AvgDurationSeconds)
	return &metrics, nil
}

// GetPopularModels returns models ranked by started generations, descending.
func (r *SQLiteAnalyticsRepository) GetPopularModels(ctx context.Context, startDate, endDate string, limit int) ([]*PopularModel, error) {
	query := `
		SELECT
			model,
			SUM(CASE WHEN action = 'generation_started' THEN 1 ELSE 0 END) as generations,
			COALESCE(SUM(CASE WHEN action = 'generation_completed' THEN tokens_used ELSE 0 END), 0) as tokens_spent
		FROM usage_events
		WHERE model IS NOT NULL AND model != ''
			AND created_at >= ? AND created_at < ?
		GROUP BY model
		HAVING generations > 0
		ORDER BY generations DESC, model ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, startDate, endDate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get popular models: %w", err)
	}
	defer rows.Close()

	var popular []*PopularModel
	for rows.Next() {
		var m PopularModel
		if err := rows.Scan(&m.Model, &m.Generations, &m.TokensSpent); err != nil {
			return nil, fmt.Errorf("failed to scan popular model: %w", err)
		}
		popular = append(popular, &m)
	}
	return popular, rows.Err()
}

// GetUserActivitySummary returns one user's activity over the trailing 30 days.
func (r *SQLiteAnalyticsRepository) GetUserActivitySummary(ctx context.Context, userID string) (*UserActivitySummary, error) {
	start := time.Now().AddDate(0, 0, -30).Format(time.RFC3339)

	query := `
		SELECT
			SUM(CASE WHEN action = 'generation_started' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN action = 'generation_completed' THEN 1 ELSE 0 END) as completed,
			SUM(CASE WHEN action = 'generation_failed' THEN 1 ELSE 0 END) as failed,
			COALESCE(SUM(CASE WHEN action = 'generation_completed' THEN tokens_used ELSE 0 END), 0) as tokens_spent,
			MAX(created_at) as last_activity
		FROM usage_events
		WHERE user_id = ? AND created_at >= ?
	`
	summary := UserActivitySummary{UserID: userID}
	var started, completed, failed sql.NullInt64
	var lastActivity sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID, start).Scan(
		&started,
		&completed,
		&failed,
		&summary.TokensSpent,
		&lastActivity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user activity summary: %w", err)
	}

	summary.Started = int(started.Int64)
	summary.Completed = int(completed.Int64)
	summary.Failed = int(failed.Int64)
	summary.SuccessRate = successRate(summary.Completed, summary.Started)
	if lastActivity.Valid {
		t, _ := time.Parse(time.RFC3339, lastActivity.String)
		summary.LastActivity = &t
	}

	return &summary, nil
}
