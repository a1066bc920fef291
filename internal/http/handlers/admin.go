package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// AdminHandler handles admin-only endpoints: global listings, analytics,
// provider credentials, token adjustments, and cleanup.
type AdminHandler struct {
	generationSvc *service.GenerationService
	accountSvc    *service.AccountService
	ledgerSvc     *service.LedgerService
	usageSvc      *service.UsageService
	credentialSvc *service.CredentialService
	cleanupSvc    *service.CleanupService
	retention     time.Duration
	logger        *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	generationSvc *service.GenerationService,
	accountSvc *service.AccountService,
	ledgerSvc *service.LedgerService,
	usageSvc *service.UsageService,
	credentialSvc *service.CredentialService,
	cleanupSvc *service.CleanupService,
	retention time.Duration,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		generationSvc: generationSvc,
		accountSvc:    accountSvc,
		ledgerSvc:     ledgerSvc,
		usageSvc:      usageSvc,
		credentialSvc: credentialSvc,
		cleanupSvc:    cleanupSvc,
		retention:     retention,
		logger:        logger,
	}
}

// ListAllGenerations retrieves generations across all users.
func (h *AdminHandler) ListAllGenerations(ctx context.Context, input *PageInput) (*ListGenerationsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	gens, err := h.generationSvc.ListAllGenerations(ctx, limit, input.Offset)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if gens == nil {
		gens = []*models.Generation{}
	}

	out := &ListGenerationsOutput{}
	out.Body.Generations = gens
	out.Body.Limit = limit
	out.Body.Offset = input.Offset
	return out, nil
}

// SystemStatsOutput wraps system-wide counters.
type SystemStatsOutput struct {
	Body struct {
		Users        int            `json:"users"`
		StatusCounts map[string]int `json:"status_counts"`
	}
}

// GetSystemStats returns user count and generation counts per status.
func (h *AdminHandler) GetSystemStats(ctx context.Context, input *struct{}) (*SystemStatsOutput, error) {
	userCount, err := h.accountSvc.CountUsers(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}

	counts, err := h.generationSvc.CountByStatus(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}

	statusCounts := make(map[string]int, len(counts))
	for status, count := range counts {
		statusCounts[string(status)] = count
	}

	out := &SystemStatsOutput{}
	out.Body.Users = userCount
	out.Body.StatusCounts = statusCounts
	return out, nil
}

// AnalyticsWindowInput holds an analytics window.
type AnalyticsWindowInput struct {
	UserID    string `query:"user_id" doc:"Scope to a single user (empty for global)"`
	StartDate string `query:"start_date" doc:"Window start (RFC3339, default 30 days ago)"`
	EndDate   string `query:"end_date" doc:"Window end (RFC3339, default now)"`
}

// UsageAnalyticsOutput wraps aggregate usage for a window.
type UsageAnalyticsOutput struct {
	Body repository.UsageAnalytics
}

// GetUsageAnalytics returns aggregate usage for a window.
func (h *AdminHandler) GetUsageAnalytics(ctx context.Context, input *AnalyticsWindowInput) (*UsageAnalyticsOutput, error) {
	analytics, err := h.usageSvc.GetUsageAnalytics(ctx, input.UserID, input.StartDate, input.EndDate)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &UsageAnalyticsOutput{Body: *analytics}, nil
}

// GenerationMetricsOutput wraps duration and compute aggregates.
type GenerationMetricsOutput struct {
	Body repository.GenerationMetrics
}

// GetGenerationMetrics returns generation timing aggregates for a window.
func (h *AdminHandler) GetGenerationMetrics(ctx context.Context, input *AnalyticsWindowInput) (*GenerationMetricsOutput, error) {
	metrics, err := h.usageSvc.GetGenerationMetrics(ctx, input.StartDate, input.EndDate)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GenerationMetricsOutput{Body: *metrics}, nil
}

// PopularModelsInput holds the popular-models query.
type PopularModelsInput struct {
	StartDate string `query:"start_date" doc:"Window start (RFC3339, default 30 days ago)"`
	EndDate   string `query:"end_date" doc:"Window end (RFC3339, default now)"`
	Limit     int    `query:"limit" doc:"Max models to return (default 10, max 50)"`
}

// PopularModelsOutput wraps the most used models.
type PopularModelsOutput struct {
	Body struct {
		Models []*repository.PopularModel `json:"models"`
	}
}

// GetPopularModels returns the most used models in a window, busiest first.
func (h *AdminHandler) GetPopularModels(ctx context.Context, input *PopularModelsInput) (*PopularModelsOutput, error) {
	popular, err := h.usageSvc.GetPopularModels(ctx, input.StartDate, input.EndDate, input.Limit)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if popular == nil {
		popular = []*repository.PopularModel{}
	}

	out := &PopularModelsOutput{}
	out.Body.Models = popular
	return out, nil
}

// ListCredentialsOutput wraps stored provider credentials (no token material).
type ListCredentialsOutput struct {
	Body struct {
		Credentials []service.CredentialInfo `json:"credentials"`
	}
}

// ListCredentials returns the stored provider credentials.
func (h *AdminHandler) ListCredentials(ctx context.Context, input *struct{}) (*ListCredentialsOutput, error) {
	infos, err := h.credentialSvc.ListCredentials(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}

	out := &ListCredentialsOutput{}
	out.Body.Credentials = infos
	return out, nil
}

// SetCredentialInput carries a provider API token to store.
type SetCredentialInput struct {
	Body struct {
		Provider string `json:"provider" example:"replicate" doc:"Provider name"`
		APIToken string `json:"api_token" doc:"API token to store encrypted"`
	}
}

// SetCredentialOutput acknowledges a stored credential.
type SetCredentialOutput struct {
	Body struct {
		Provider string `json:"provider"`
		Stored   bool   `json:"stored"`
	}
}

// SetCredential encrypts and stores a provider API token.
func (h *AdminHandler) SetCredential(ctx context.Context, input *SetCredentialInput) (*SetCredentialOutput, error) {
	if err := h.credentialSvc.SetProviderToken(ctx, input.Body.Provider, input.Body.APIToken); err != nil {
		return nil, mapServiceError(err)
	}

	h.logger.Info("admin stored provider credential",
		"provider", input.Body.Provider,
		"admin_id", getUserID(ctx),
	)

	out := &SetCredentialOutput{}
	out.Body.Provider = input.Body.Provider
	out.Body.Stored = true
	return out, nil
}

// AdjustTokensInput carries a manual token adjustment.
type AdjustTokensInput struct {
	Body struct {
		UserID      string `json:"user_id" doc:"Target user"`
		Tokens      int    `json:"tokens" doc:"Tokens to credit"`
		Description string `json:"description,omitempty" doc:"Audit note"`
	}
}

// AdjustTokensOutput acknowledges a token adjustment.
type AdjustTokensOutput struct {
	Body struct {
		UserID  string `json:"user_id"`
		Tokens  int    `json:"tokens"`
		Applied bool   `json:"applied"`
	}
}

// AdjustTokens applies a manual token adjustment to a user.
func (h *AdminHandler) AdjustTokens(ctx context.Context, input *AdjustTokensInput) (*AdjustTokensOutput, error) {
	description := input.Body.Description
	if description == "" {
		description = "Manual adjustment"
	}

	if err := h.ledgerSvc.AddAdjustment(ctx, input.Body.UserID, input.Body.Tokens, description); err != nil {
		return nil, mapServiceError(err)
	}

	h.logger.Info("admin token adjustment",
		"target_user_id", input.Body.UserID,
		"tokens", input.Body.Tokens,
		"admin_id", getUserID(ctx),
	)

	out := &AdjustTokensOutput{}
	out.Body.UserID = input.Body.UserID
	out.Body.Tokens = input.Body.Tokens
	out.Body.Applied = true
	return out, nil
}

// CleanupOutput wraps the results of a manual cleanup pass.
type CleanupOutput struct {
	Body struct {
		UsageEventsDeleted int64 `json:"usage_events_deleted"`
		SourceFilesDeleted int   `json:"source_files_deleted"`
		Errors             int   `json:"errors"`
	}
}

// RunCleanup triggers a cleanup pass immediately.
func (h *AdminHandler) RunCleanup(ctx context.Context, input *struct{}) (*CleanupOutput, error) {
	result, err := h.cleanupSvc.Run(ctx, h.retention)
	if err != nil {
		return nil, mapServiceError(err)
	}

	out := &CleanupOutput{}
	out.Body.UsageEventsDeleted = result.UsageEventsDeleted
	out.Body.SourceFilesDeleted = result.SourceFilesDeleted
	out.Body.Errors = len(result.Errors)
	return out, nil
}
