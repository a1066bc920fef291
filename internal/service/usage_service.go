package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// UsageService exposes the usage log and its windowed aggregates.
type UsageService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(repos *repository.Repositories, logger *slog.Logger) *UsageService {
	return &UsageService{
		repos:  repos,
		logger: logger,
	}
}

// GetUsageHistory retrieves a user's usage events, newest first.
func (s *UsageService) GetUsageHistory(ctx context.Context, userID string, limit, offset int) ([]*models.UsageEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repos.UsageEvent.GetByUserID(ctx, userID, limit, offset)
}

// normalizeWindow fills in defaults for an analytics window: the trailing
// 30 days when no bounds are given.
func normalizeWindow(startDate, endDate string) (string, string) {
	now := time.Now().UTC()
	if endDate == "" {
		endDate = now.Format(time.RFC3339)
	}
	if startDate == "" {
		startDate = now.AddDate(0, 0, -30).Format(time.RFC3339)
	}
	return startDate, endDate
}

// GetUsageAnalytics returns aggregate usage for a window. Empty userID
// aggregates across all users; empty bounds default to the trailing 30 days.
func (s *UsageService) GetUsageAnalytics(ctx context.Context, userID, startDate, endDate string) (*repository.UsageAnalytics, error) {
	startDate, endDate = normalizeWindow(startDate, endDate)

	analytics, err := s.repos.Analytics.GetUsageAnalytics(ctx, userID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage analytics: %w", err)
	}
	return analytics, nil
}

// GetGenerationMetrics returns duration and compute-time aggregates for a
// window (admin dashboards).
func (s *UsageService) GetGenerationMetrics(ctx context.Context, startDate, endDate string) (*repository.GenerationMetrics, error) {
	startDate, endDate = normalizeWindow(startDate, endDate)
	return s.repos.Analytics.GetGenerationMetrics(ctx, startDate, endDate)
}

// GetPopularModels returns the most used models in a window, busiest first.
func (s *UsageService) GetPopularModels(ctx context.Context, startDate, endDate string, limit int) ([]*repository.PopularModel, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	startDate, endDate = normalizeWindow(startDate, endDate)
	return s.repos.Analytics.GetPopularModels(ctx, startDate, endDate, limit)
}

// GetUserActivitySummary returns a user's trailing-30-day activity.
func (s *UsageService) GetUserActivitySummary(ctx context.Context, userID string) (*repository.UserActivitySummary, error) {
	return s.repos.Analytics.GetUserActivitySummary(ctx, userID)
}
