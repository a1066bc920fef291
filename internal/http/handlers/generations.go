package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/service"
)

// GenerationsHandler handles generation lifecycle endpoints.
type GenerationsHandler struct {
	generationSvc *service.GenerationService
	storageSvc    *service.StorageService
	logger        *slog.Logger
}

// NewGenerationsHandler creates a new generations handler.
func NewGenerationsHandler(generationSvc *service.GenerationService, storageSvc *service.StorageService, logger *slog.Logger) *GenerationsHandler {
	return &GenerationsHandler{
		generationSvc: generationSvc,
		storageSvc:    storageSvc,
		logger:        logger,
	}
}

// CreateGenerationInput represents a generation creation request.
type CreateGenerationInput struct {
	Body struct {
		Model  string                  `json:"model" example:"sdxl" doc:"Model identifier"`
		Params models.GenerationParams `json:"params" doc:"Generation parameters"`
	}
}

// CreateGenerationOutput represents a generation creation response.
type CreateGenerationOutput struct {
	Body service.CreateGenerationOutput
}

// CreateGeneration enqueues a new image generation.
func (h *GenerationsHandler) CreateGeneration(ctx context.Context, input *CreateGenerationInput) (*CreateGenerationOutput, error) {
	userID := getUserID(ctx)

	result, err := h.generationSvc.CreateGeneration(ctx, userID, service.CreateGenerationInput{
		Model:  input.Body.Model,
		Params: input.Body.Params,
	})
	if err != nil {
		switch err {
		case service.ErrInsufficientTokens, service.ErrUserNotFound:
			return nil, mapServiceError(err)
		default:
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
	}

	return &CreateGenerationOutput{Body: *result}, nil
}

// GetGenerationInput identifies a generation by ID.
type GetGenerationInput struct {
	ID string `path:"id" doc:"Generation ID"`
}

// GenerationOutput wraps a single generation.
type GenerationOutput struct {
	Body models.Generation
}

// GetGeneration retrieves a generation owned by the caller.
func (h *GenerationsHandler) GetGeneration(ctx context.Context, input *GetGenerationInput) (*GenerationOutput, error) {
	gen, err := h.generationSvc.GetGeneration(ctx, getUserID(ctx), input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if gen == nil {
		return nil, huma.Error404NotFound("generation not found")
	}
	return &GenerationOutput{Body: *gen}, nil
}

// ListGenerationsInput holds listing filters.
type ListGenerationsInput struct {
	Status string `query:"status" doc:"Filter by status (pending, processing, completed, failed, cancelled)"`
	Limit  int    `query:"limit" doc:"Page size (default 20, max 100)"`
	Offset int    `query:"offset" doc:"Pagination offset"`
}

// ListGenerationsOutput wraps a page of generations.
type ListGenerationsOutput struct {
	Body struct {
		Generations []*models.Generation `json:"generations"`
		Limit       int                  `json:"limit"`
		Offset      int                  `json:"offset"`
	}
}

// ListGenerations retrieves the caller's generations, newest first.
func (h *GenerationsHandler) ListGenerations(ctx context.Context, input *ListGenerationsInput) (*ListGenerationsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	gens, err := h.generationSvc.ListGenerations(ctx, getUserID(ctx), models.GenerationStatus(input.Status), limit, input.Offset)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
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

// CancelGeneration cancels a pending or processing generation.
func (h *GenerationsHandler) CancelGeneration(ctx context.Context, input *GetGenerationInput) (*GenerationOutput, error) {
	gen, err := h.generationSvc.CancelGeneration(ctx, getUserID(ctx), input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GenerationOutput{Body: *gen}, nil
}

// RetryGeneration re-queues a failed generation.
func (h *GenerationsHandler) RetryGeneration(ctx context.Context, input *GetGenerationInput) (*GenerationOutput, error) {
	gen, err := h.generationSvc.RetryGeneration(ctx, getUserID(ctx), input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GenerationOutput{Body: *gen}, nil
}

// DeleteGeneration removes a generation owned by the caller. Usage events
// and token accounting are left as they are.
func (h *GenerationsHandler) DeleteGeneration(ctx context.Context, input *GetGenerationInput) (*struct{}, error) {
	if err := h.generationSvc.DeleteGeneration(ctx, getUserID(ctx), input.ID); err != nil {
		return nil, mapServiceError(err)
	}
	return &struct{}{}, nil
}

// GenerationFilesOutput wraps the output files of a generation.
type GenerationFilesOutput struct {
	Body struct {
		Files []*models.FileMetadata `json:"files"`
	}
}

// GetGenerationFiles retrieves the files recorded for a generation.
func (h *GenerationsHandler) GetGenerationFiles(ctx context.Context, input *GetGenerationInput) (*GenerationFilesOutput, error) {
	files, err := h.storageSvc.GetGenerationFiles(ctx, getUserID(ctx), input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if files == nil {
		files = []*models.FileMetadata{}
	}

	out := &GenerationFilesOutput{}
	out.Body.Files = files
	return out, nil
}
