package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// CleanupService reaps old usage events and expired source uploads.
type CleanupService struct {
	usageRepo  repository.UsageEventRepository
	storageSvc *StorageService
	logger     *slog.Logger
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(usageRepo repository.UsageEventRepository, storageSvc *StorageService, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		usageRepo:  usageRepo,
		storageSvc: storageSvc,
		logger:     logger.With("component", "cleanup"),
	}
}

// CleanupResult contains the results of a cleanup pass.
type CleanupResult struct {
	UsageEventsDeleted int64
	SourceFilesDeleted int
	Errors             []error
}

// Run deletes usage events older than the retention window and source
// uploads past twice that age. Generations and token purchases are never
// reaped: they are the billing history.
func (s *CleanupService) Run(ctx context.Context, retention time.Duration) (*CleanupResult, error) {
	result := &CleanupResult{}
	cutoff := time.Now().UTC().Add(-retention)

	s.logger.Info("starting cleanup",
		"retention", retention.String(),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	deleted, err := s.usageRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to delete old usage events", "error", err)
		result.Errors = append(result.Errors, err)
	} else {
		result.UsageEventsDeleted = deleted
	}

	if s.storageSvc != nil && s.storageSvc.IsEnabled() {
		count, err := s.storageSvc.DeleteOldObjects(ctx, "sources/", 2*retention)
		if err != nil {
			s.logger.Error("failed to delete old source objects", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.SourceFilesDeleted = count
		}
	}

	s.logger.Info("cleanup completed",
		"usage_events_deleted", result.UsageEventsDeleted,
		"source_files_deleted", result.SourceFilesDeleted,
		"errors", len(result.Errors),
	)

	return result, nil
}

// RunScheduled runs cleanup immediately and then at the given interval until
// the context is cancelled.
func (s *CleanupService) RunScheduled(ctx context.Context, retention, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup",
		"retention", retention.String(),
		"interval", interval.String(),
	)

	if _, err := s.Run(ctx, retention); err != nil {
		s.logger.Error("initial cleanup failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, retention); err != nil {
				s.logger.Error("scheduled cleanup failed", "error", err)
			}
		}
	}
}
