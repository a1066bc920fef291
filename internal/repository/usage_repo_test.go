package repository

import (
	"context"
	"testing"
	"time"
)

func TestUsageEventRepository_DeleteOlderThan(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	InsertTestUsageEvent(t, db, "ev-1", "user-1", "generation_started", "sdxl", 0, now.AddDate(0, 0, -100))
	InsertTestUsageEvent(t, db, "ev-2", "user-1", "generation_completed", "sdxl", 4, now.AddDate(0, 0, -95))
	InsertTestUsageEvent(t, db, "ev-3", "user-1", "generation_started", "sdxl", 0, now.AddDate(0, 0, -5))

	deleted, err := repos.UsageEvent.DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, err := repos.UsageEvent.GetByUserID(ctx, "user-1", 50, 0)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "ev-3" {
		t.Errorf("remaining = %+v, want only ev-3", remaining)
	}

	// Nothing left to reap
	deleted, err = repos.UsageEvent.DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 on second pass", deleted)
	}
}

func TestAnalyticsRepository_GetUsageAnalytics(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	InsertTestUsageEvent(t, db, "ev-1", "user-1", "generation_started", "sdxl", 0, now.Add(-3*time.Hour))
	InsertTestUsageEvent(t, db, "ev-2", "user-1", "generation_completed", "sdxl", 4, now.Add(-2*time.Hour))
	InsertTestUsageEvent(t, db, "ev-3", "user-1", "generation_started", "flux", 0, now.Add(-2*time.Hour))
	InsertTestUsageEvent(t, db, "ev-4", "user-1", "generation_failed", "flux", 0, now.Add(-time.Hour))
	InsertTestUsageEvent(t, db, "ev-5", "user-2", "generation_started", "sdxl", 0, now.Add(-time.Hour))
	InsertTestUsageEvent(t, db, "ev-6", "user-2", "tokens_purchased", "", 100, now.Add(-time.Hour))

	start := now.Add(-24 * time.Hour).Format(time.RFC3339)
	end := now.Add(time.Hour).Format(time.RFC3339)

	analytics, err := repos.Analytics.GetUsageAnalytics(ctx, "", start, end)
	if err != nil {
		t.Fatalf("GetUsageAnalytics() error = %v", err)
	}
	if analytics.TotalEvents != 6 {
		t.Errorf("TotalEvents = %d, want 6", analytics.TotalEvents)
	}
	if analytics.Started != 3 {
		t.Errorf("Started = %d, want 3", analytics.Started)
	}
	if analytics.Completed != 1 {
		t.Errorf("Completed = %d, want 1", analytics.Completed)
	}
	if analytics.Failed != 1 {
		t.Errorf("Failed = %d, want 1", analytics.Failed)
	}
	if analytics.TokensSpent != 4 {
		t.Errorf("TokensSpent = %d, want 4", analytics.TokensSpent)
	}
	if analytics.ActiveUsers != 2 {
		t.Errorf("ActiveUsers = %d, want 2", analytics.ActiveUsers)
	}
	wantRate := float64(1) / float64(3) * 100
	if analytics.SuccessRate < wantRate-0.01 || analytics.SuccessRate > wantRate+0.01 {
		t.Errorf("SuccessRate = %f, want %f", analytics.SuccessRate, wantRate)
	}
	if analytics.SuccessRate < 0 || analytics.SuccessRate > 100 {
		t.Errorf("SuccessRate = %f, outside [0,100]", analytics.SuccessRate)
	}
	if analytics.ActionCounts["generation_started"] != 3 {
		t.Errorf("ActionCounts[generation_started] = %d, want 3", analytics.ActionCounts["generation_started"])
	}
	if analytics.ActionCounts["tokens_purchased"] != 1 {
		t.Errorf("ActionCounts[tokens_purchased] = %d, want 1", analytics.ActionCounts["tokens_purchased"])
	}
	daySum := 0
	for _, d := range analytics.DailyCounts {
		if d.Date == "" {
			t.Error("expected daily count dates to be set")
		}
		daySum += d.Events
	}
	if daySum != 6 {
		t.Errorf("daily counts sum = %d, want 6", daySum)
	}

	// Per-user scope
	scoped, err := repos.Analytics.GetUsageAnalytics(ctx, "user-2", start, end)
	if err != nil {
		t.Fatalf("GetUsageAnalytics() error = %v", err)
	}
	if scoped.Started != 1 {
		t.Errorf("user-2 Started = %d, want 1", scoped.Started)
	}
}

func TestAnalyticsRepository_GetUsageAnalytics_EmptyWindow(t *testing.T) {
	repos, _ := setupTestRepos(t)

	now := time.Now().UTC()
	analytics, err := repos.Analytics.GetUsageAnalytics(context.Background(), "",
		now.Add(-time.Hour).Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("GetUsageAnalytics() error = %v", err)
	}
	if analytics.Started != 0 || analytics.Completed != 0 {
		t.Errorf("expected zero counts, got %+v", analytics)
	}
	if analytics.SuccessRate != 0 {
		t.Errorf("SuccessRate = %f, want 0 when nothing started", analytics.SuccessRate)
	}
}

func TestAnalyticsRepository_GetUsageAnalytics_SuccessRateCapped(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	// Two starts fall before the window; their completions land inside it.
	// The raw completed/started ratio exceeds 100 and must be capped.
	now := time.Now().UTC()
	InsertTestUsageEvent(t, db, "ev-1", "user-1", "generation_started", "sdxl", 0, now.Add(-48*time.Hour))
	InsertTestUsageEvent(t, db, "ev-2", "user-1", "generation_started", "sdxl", 0, now.Add(-47*time.Hour))
	InsertTestUsageEvent(t, db, "ev-3", "user-1", "generation_started", "sdxl", 0, now.Add(-3*time.Hour))
	InsertTestUsageEvent(t, db, "ev-4", "user-1", "generation_completed", "sdxl", 4, now.Add(-2*time.Hour))
	InsertTestUsageEvent(t, db, "ev-5", "user-1", "generation_completed", "sdxl", 4, now.Add(-time.Hour))

	start := now.Add(-24 * time.Hour).Format(time.RFC3339)
	end := now.Format(time.RFC3339)

	analytics, err := repos.Analytics.GetUsageAnalytics(ctx, "", start, end)
	if err != nil {
		t.Fatalf("GetUsageAnalytics() error = %v", err)
	}
	if analytics.Started != 1 || analytics.Completed != 2 {
		t.Fatalf("Started = %d, Completed = %d, want 1 and 2", analytics.Started, analytics.Completed)
	}
	if analytics.SuccessRate != 100 {
		t.Errorf("SuccessRate = %f, want capped at 100", analytics.SuccessRate)
	}
}

func TestAnalyticsRepository_GetPopularModels(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		InsertTestUsageEvent(t, db, "sdxl-"+string(rune('a'+i)), "user-1", "generation_started", "sdxl", 0, now.Add(-time.Hour))
	}
	for i := 0; i < 3; i++ {
		InsertTestUsageEvent(t, db, "flux-"+string(rune('a'+i)), "user-1", "generation_started", "flux-pro", 0, now.Add(-time.Hour))
	}
	InsertTestUsageEvent(t, db, "kan-a", "user-1", "generation_started", "kandinsky", 0, now.Add(-time.Hour))

	start := now.Add(-24 * time.Hour).Format(time.RFC3339)
	end := now.Format(time.RFC3339)

	popular, err := repos.Analytics.GetPopularModels(ctx, start, end, 2)
	if err != nil {
		t.Fatalf("GetPopularModels() error = %v", err)
	}
	if len(popular) != 2 {
		t.Fatalf("len(popular) = %d, want 2 (limit)", len(popular))
	}
	if popular[0].Model != "sdxl" || popular[0].Generations != 5 {
		t.Errorf("popular[0] = %+v, want sdxl with 5", popular[0])
	}
	if popular[1].Model != "flux-pro" || popular[1].Generations != 3 {
		t.Errorf("popular[1] = %+v, want flux-pro with 3", popular[1])
	}
}

func TestAnalyticsRepository_GetUserActivitySummary(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	InsertTestUsageEvent(t, db, "ev-1", "user-1", "generation_started", "sdxl", 0, now.Add(-48*time.Hour))
	InsertTestUsageEvent(t, db, "ev-2", "user-1", "generation_completed", "sdxl", 4, now.Add(-47*time.Hour))
	// Outside the trailing 30 days, must not count
	InsertTestUsageEvent(t, db, "ev-old", "user-1", "generation_started", "sdxl", 0, now.AddDate(0, 0, -45))

	// Completion for the start outside the window: ratio would be 200
	// without the cap.
	InsertTestUsageEvent(t, db, "ev-old-done", "user-1", "generation_completed", "sdxl", 4, now.Add(-46*time.Hour))

	summary, err := repos.Analytics.GetUserActivitySummary(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserActivitySummary() error = %v", err)
	}
	if summary.Started != 1 {
		t.Errorf("Started = %d, want 1 (trailing 30 days only)", summary.Started)
	}
	if summary.Completed != 2 {
		t.Errorf("Completed = %d, want 2", summary.Completed)
	}
	if summary.TokensSpent != 8 {
		t.Errorf("TokensSpent = %d, want 8", summary.TokensSpent)
	}
	if summary.SuccessRate != 100 {
		t.Errorf("SuccessRate = %f, want capped at 100", summary.SuccessRate)
	}
	if summary.LastActivity == nil {
		t.Error("expected LastActivity to be set")
	}
}

func TestAnalyticsRepository_GetGenerationMetrics(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	started := now.Add(-10 * time.Minute).Format(time.RFC3339)
	completed := now.Add(-9 * time.Minute).Format(time.RFC3339)
	ts := now.Format(time.RFC3339)
	if _, err := db.Exec(`
		INSERT INTO generations (id, user_id, model, status, params_json, cost_tokens, predict_time, started_at, completed_at, created_at, updated_at)
		VALUES ('gen-1', 'user-1', 'sdxl', 'completed', '{}', 4, 2.0, ?, ?, ?, ?),
			('gen-2', 'user-1', 'sdxl', 'completed', '{}', 4, 4.0, ?, ?, ?, ?),
			('gen-3', 'user-1', 'sdxl', 'failed', '{}', 4, 0, NULL, NULL, ?, ?)
	`, started, completed, ts, ts, started, completed, ts, ts, ts, ts); err != nil {
		t.Fatalf("failed to insert generations: %v", err)
	}

	start := now.Add(-time.Hour).Format(time.RFC3339)
	end := now.Add(time.Hour).Format(time.RFC3339)
	metrics, err := repos.Analytics.GetGenerationMetrics(ctx, start, end)
	if err != nil {
		t.Fatalf("GetGenerationMetrics() error = %v", err)
	}
	if metrics.TotalGenerations != 3 {
		t.Errorf("TotalGenerations = %d, want 3", metrics.TotalGenerations)
	}
	if metrics.CompletedGenerations != 2 {
		t.Errorf("CompletedGenerations = %d, want 2", metrics.CompletedGenerations)
	}
	if metrics.AvgPredictTime != 3 {
		t.Errorf("AvgPredictTime = %f, want 3", metrics.AvgPredictTime)
	}
	if metrics.AvgDurationSeconds != 60 {
		t.Errorf("AvgDurationSeconds = %f, want 60", metrics.AvgDurationSeconds)
	}
}

func TestAnalyticsRepository_GetGenerationMetrics_RoundsAverages(t *testing.T) {
	repos, db := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC()
	started := now.Add(-10 * time.Minute).Format(time.RFC3339)
	completedA := now.Add(-10*time.Minute + 70*time.Second).Format(time.RFC3339)
	completedB := now.Add(-10*time.Minute + 45*time.Second).Format(time.RFC3339)
	ts := now.Format(time.RFC3339)
	if _, err := db.Exec(`
		INSERT INTO generations (id, user_id, model, status, params_json, cost_tokens, predict_time, started_at, completed_at, created_at, updated_at)
		VALUES ('gen-1', 'user-1', 'sdxl', 'completed', '{}', 4, 2.0, ?, ?, ?, ?),
			('gen-2', 'user-1', 'sdxl', 'completed', '{}', 4, 3.5, ?, ?, ?, ?)
	`, started, completedA, ts, ts, started, completedB, ts, ts); err != nil {
		t.Fatalf("failed to insert generations: %v", err)
	}

	metrics, err := repos.Analytics.GetGenerationMetrics(ctx,
		now.Add(-time.Hour).Format(time.RFC3339), now.Add(time.Hour).Format(time.RFC3339))
	if err != nil {
		t.Fatalf("GetGenerationMetrics() error = %v", err)
	}
	// Raw averages are 2.75s predict time and 57.5s duration; both are
	// reported rounded to whole seconds.
	if metrics.AvgPredictTime != 3 {
		t.Errorf("AvgPredictTime = %f, want 3", metrics.AvgPredictTime)
	}
	if metrics.AvgDurationSeconds != 58 {
		t.Errorf("AvgDurationSeconds = %f, want 58", metrics.AvgDurationSeconds)
	}
	if metrics.TotalPredictTime < 5.49 || metrics.TotalPredictTime > 5.51 {
		t.Errorf("TotalPredictTime = %f, want 5.5 unrounded", metrics.TotalPredictTime)
	}
}
