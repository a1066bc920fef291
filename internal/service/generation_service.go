package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/provider"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// GenerationService handles the generation lifecycle: creation, cancellation,
// retry, and settlement of provider results.
type GenerationService struct {
	cfg      *config.Config
	repos    *repository.Repositories
	provider provider.Client
	logger   *slog.Logger
}

// NewGenerationService creates a new generation service.
func NewGenerationService(cfg *config.Config, repos *repository.Repositories, providerClient provider.Client, logger *slog.Logger) *GenerationService {
	return &GenerationService{
		cfg:      cfg,
		repos:    repos,
		provider: providerClient,
		logger:   logger,
	}
}

// CreateGenerationInput represents input for creating a generation.
type CreateGenerationInput struct {
	Model  string                  `json:"model"`
	Params models.GenerationParams `json:"params"`
}

// CreateGenerationOutput represents output from creating a generation.
type CreateGenerationOutput struct {
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
	CostTokens   int    `json:"cost_tokens"`
	StatusURL    string `json:"status_url"`
}

// CreateGeneration validates the request, checks the user's balance against
// the model's declared cost, and enqueues a pending generation. The balance
// is only checked here; the actual debit happens at settlement.
func (s *GenerationService) CreateGeneration(ctx context.Context, userID string, input CreateGenerationInput) (*CreateGenerationOutput, error) {
	if input.Params.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if input.Params.Width <= 0 {
		input.Params.Width = 1024
	}
	if input.Params.Height <= 0 {
		input.Params.Height = 1024
	}
	if input.Params.NumOutputs <= 0 {
		input.Params.NumOutputs = 1
	}

	cost := s.cfg.CostForModel(input.Model)

	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.TokenBalance < cost {
		return nil, ErrInsufficientTokens
	}

	paramsJSON, err := json.Marshal(input.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %w", err)
	}

	now := time.Now().UTC()
	gen := &models.Generation{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Model:      input.Model,
		Status:     models.GenerationStatusPending,
		ParamsJSON: string(paramsJSON),
		CostTokens: cost,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	event := &models.UsageEvent{
		ID:           ulid.Make().String(),
		UserID:       userID,
		Action:       models.ActionGenerationStarted,
		Model:        input.Model,
		GenerationID: &gen.ID,
		CreatedAt:    now,
	}

	if err := s.repos.Generation.Create(ctx, gen, event); err != nil {
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}

	s.logger.Info("created generation",
		"generation_id", gen.ID,
		"user_id", userID,
		"model", input.Model,
		"cost_tokens", cost,
	)

	return &CreateGenerationOutput{
		GenerationID: gen.ID,
		Status:       string(gen.Status),
		CostTokens:   cost,
		StatusURL:    fmt.Sprintf("%s/api/v1/generations/%s", s.cfg.BaseURL, gen.ID),
	}, nil
}

// GetGeneration retrieves a generation by ID, scoped to the owning user.
func (s *GenerationService) GetGeneration(ctx context.Context, userID, generationID string) (*models.Generation, error) {
	gen, err := s.repos.Generation.GetByID(ctx, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	if gen == nil || gen.UserID != userID {
		return nil, nil
	}
	return gen, nil
}

// ListGenerations retrieves a user's generations, newest first. An empty
// status lists all statuses.
func (s *GenerationService) ListGenerations(ctx context.Context, userID string, status models.GenerationStatus, limit, offset int) ([]*models.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("unknown status filter: %s", status)
	}

	return s.repos.Generation.GetByUserID(ctx, userID, status, limit, offset)
}

// ListAllGenerations retrieves generations across all users (admin listing).
func (s *GenerationService) ListAllGenerations(ctx context.Context, limit, offset int) ([]*models.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.repos.Generation.List(ctx, limit, offset)
}

// CountByStatus returns generation counts per status (admin dashboards).
func (s *GenerationService) CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error) {
	return s.repos.Generation.CountByStatus(ctx)
}

// CancelGeneration cancels a pending or processing generation. The provider
// is asked to stop a dispatched prediction, best effort: a failed cancel call
// does not block the local state change, settlement simply ignores the late
// result.
func (s *GenerationService) CancelGeneration(ctx context.Context, userID, generationID string) (*models.Generation, error) {
	gen, err := s.GetGeneration(ctx, userID, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrGenerationNotFound
	}
	if !gen.Status.CanTransitionTo(models.GenerationStatusCancelled) {
		return nil, ErrInvalidTransition
	}

	if gen.ExternalID != "" && s.provider != nil {
		if err := s.provider.CancelPrediction(ctx, gen.ExternalID); err != nil {
			s.logger.Warn("provider cancel failed",
				"generation_id", gen.ID,
				"external_id", gen.ExternalID,
				"error", err,
			)
		}
	}

	now := time.Now().UTC()
	ok, err := s.repos.Generation.Settle(ctx, repository.SettleParams{
		GenerationID: gen.ID,
		FromStatuses: models.TransitionSources(models.GenerationStatusCancelled),
		ToStatus:     models.GenerationStatusCancelled,
		Event: &models.UsageEvent{
			ID:           ulid.Make().String(),
			UserID:       gen.UserID,
			Action:       models.ActionGenerationCancelled,
			Model:        gen.Model,
			GenerationID: &gen.ID,
			CreatedAt:    now,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel generation: %w", err)
	}
	if !ok {
		// Raced with a settlement; the row left pending/processing in between.
		return nil, ErrInvalidTransition
	}

	s.logger.Info("cancelled generation", "generation_id", gen.ID, "user_id", userID)

	return s.repos.Generation.GetByID(ctx, gen.ID)
}

// RetryGeneration re-queues a failed generation for another attempt. The
// retry budget is capped at models.MaxRetryCount. Balance is not re-checked
// unless RETRY_REQUIRES_BALANCE is set: the declared cost was already
// accepted when the generation was created.
func (s *GenerationService) RetryGeneration(ctx context.Context, userID, generationID string) (*models.Generation, error) {
	gen, err := s.GetGeneration(ctx, userID, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, ErrGenerationNotFound
	}
	if gen.Status != models.GenerationStatusFailed {
		return nil, ErrInvalidTransition
	}
	if gen.RetryCount >= models.MaxRetryCount {
		return nil, ErrRetryLimit
	}

	if s.cfg.RetryRequiresBalance {
		user, err := s.repos.User.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get user: %w", err)
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		if user.TokenBalance < gen.CostTokens {
			return nil, ErrInsufficientTokens
		}
	}

	ok, err := s.repos.Generation.Requeue(ctx, gen.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue generation: %w", err)
	}
	if !ok {
		// Lost a race: settled or retried concurrently.
		return nil, ErrRetryLimit
	}

	s.logger.Info("requeued generation",
		"generation_id", gen.ID,
		"user_id", userID,
		"retry_count", gen.RetryCount+1,
	)

	return s.repos.Generation.GetByID(ctx, gen.ID)
}

// ApplyProviderEvent settles a generation from a verified provider webhook.
// An unknown prediction ID returns ErrGenerationNotFound so the caller can
// reject the delivery outright; terminal statuses carrying no state change
// (duplicate deliveries, late results for cancelled generations) settle as
// no-ops.
func (s *GenerationService) ApplyProviderEvent(ctx context.Context, event *provider.Event) error {
	gen, err := s.repos.Generation.GetByExternalID(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to look up generation: %w", err)
	}
	if gen == nil {
		return ErrGenerationNotFound
	}

	target, ok := provider.MapStatus(event.Status)
	if !ok {
		// Heartbeat statuses (starting, processing) carry no transition.
		return nil
	}

	params := repository.SettleParams{
		GenerationID: gen.ID,
		FromStatuses: models.TransitionSources(target),
		ToStatus:     target,
		PredictTime:  event.PredictTime,
	}

	now := time.Now().UTC()
	usageEvent := &models.UsageEvent{
		ID:           ulid.Make().String(),
		UserID:       gen.UserID,
		Model:        gen.Model,
		GenerationID: &gen.ID,
		CreatedAt:    now,
	}

	switch target {
	case models.GenerationStatusCompleted:
		params.TokensUsed = gen.CostTokens
		params.DebitTokens = gen.CostTokens
		params.OutputKeys = event.Output
		usageEvent.Action = models.ActionGenerationCompleted
		usageEvent.TokensUsed = gen.CostTokens
		usageEvent.MetadataJSON = marshalEventMetadata(map[string]any{"predict_time": event.PredictTime})
	case models.GenerationStatusFailed:
		params.ErrorMessage = event.Error
		if params.ErrorMessage == "" {
			params.ErrorMessage = "generation failed"
		}
		usageEvent.Action = models.ActionGenerationFailed
		usageEvent.MetadataJSON = marshalEventMetadata(map[string]any{"error": params.ErrorMessage})
	case models.GenerationStatusCancelled:
		usageEvent.Action = models.ActionGenerationCancelled
	}
	params.Event = usageEvent

	settled, err := s.repos.Generation.Settle(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to settle generation: %w", err)
	}
	if !settled {
		s.logger.Info("duplicate or late settlement ignored",
			"generation_id", gen.ID,
			"external_id", event.ID,
			"provider_status", event.Status,
		)
		return nil
	}

	if target == models.GenerationStatusCompleted {
		s.recordOutputFiles(ctx, gen, event.Output)
	}

	s.logger.Info("settled generation",
		"generation_id", gen.ID,
		"status", target,
		"predict_time", event.PredictTime,
	)

	return nil
}

// DeleteGeneration removes a generation record owned by the caller. The
// usage log and the token ledger keep whatever the generation already cost;
// only the record itself goes away.
func (s *GenerationService) DeleteGeneration(ctx context.Context, userID, generationID string) error {
	gen, err := s.GetGeneration(ctx, userID, generationID)
	if err != nil {
		return err
	}
	if gen == nil {
		return ErrGenerationNotFound
	}

	deleted, err := s.repos.Generation.Delete(ctx, gen.ID)
	if err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	if !deleted {
		return ErrGenerationNotFound
	}

	s.logger.Info("deleted generation", "generation_id", gen.ID, "user_id", userID)
	return nil
}

// FailDispatch settles a generation as failed when submission to the
// provider did not succeed. Used by the worker.
func (s *GenerationService) FailDispatch(ctx context.Context, gen *models.Generation, reason string) error {
	now := time.Now().UTC()
	_, err := s.repos.Generation.Settle(ctx, repository.SettleParams{
		GenerationID: gen.ID,
		FromStatuses: models.TransitionSources(models.GenerationStatusFailed),
		ToStatus:     models.GenerationStatusFailed,
		ErrorMessage: reason,
		Event: &models.UsageEvent{
			ID:           ulid.Make().String(),
			UserID:       gen.UserID,
			Action:       models.ActionGenerationFailed,
			Model:        gen.Model,
			GenerationID: &gen.ID,
			MetadataJSON: marshalEventMetadata(map[string]any{"error": reason}),
			CreatedAt:    now,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to fail generation: %w", err)
	}
	return nil
}

// marshalEventMetadata serializes usage event metadata, returning an empty
// string when marshalling fails so a bad payload never blocks settlement.
func marshalEventMetadata(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// SweepStaleProcessing fails generations stuck in processing longer than
// maxAge. Covers lost webhooks and provider outages.
func (s *GenerationService) SweepStaleProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	stale, err := s.repos.Generation.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale generations: %w", err)
	}

	failed := 0
	for _, gen := range stale {
		if err := s.FailDispatch(ctx, gen, "generation timed out"); err != nil {
			s.logger.Error("failed to sweep stale generation", "generation_id", gen.ID, "error", err)
			continue
		}
		failed++
	}

	if failed > 0 {
		s.logger.Warn("swept stale processing generations", "count", failed, "max_age", maxAge.String())
	}

	return failed, nil
}

// recordOutputFiles writes file metadata rows for the generation's outputs.
// Failures are logged, not surfaced: the settlement already committed.
func (s *GenerationService) recordOutputFiles(ctx context.Context, gen *models.Generation, outputKeys []string) {
	now := time.Now().UTC()
	for i, key := range outputKeys {
		file := &models.FileMetadata{
			ID:           ulid.Make().String(),
			UserID:       gen.UserID,
			GenerationID: &gen.ID,
			ObjectKey:    key,
			FileName:     fmt.Sprintf("%s-%d.png", gen.ID, i),
			ContentType:  "image/png",
			Purpose:      "output",
			CreatedAt:    now,
		}
		if err := s.repos.FileMetadata.Create(ctx, file); err != nil {
			s.logger.Error("failed to record output file",
				"generation_id", gen.ID,
				"object_key", key,
				"error", err,
			)
		}
	}
}
