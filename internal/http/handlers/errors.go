package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pixelmint/pixelmint-api/internal/service"
)

// mapServiceError converts service-layer sentinel errors into huma status
// errors. Unknown errors surface as 500s with a generic message so internal
// detail never leaks to clients.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInsufficientTokens):
		return huma.NewError(402, "insufficient token balance")
	case errors.Is(err, service.ErrUserNotFound):
		return huma.Error404NotFound("user not found")
	case errors.Is(err, service.ErrGenerationNotFound):
		return huma.Error404NotFound("generation not found")
	case errors.Is(err, service.ErrFileNotFound):
		return huma.Error404NotFound("file not found")
	case errors.Is(err, service.ErrInvalidTransition):
		return huma.Error409Conflict("generation is not in a state that allows this operation")
	case errors.Is(err, service.ErrRetryLimit):
		return huma.Error409Conflict("retry limit reached")
	case errors.Is(err, service.ErrDuplicatePurchase):
		return huma.Error409Conflict("payment already processed")
	case errors.Is(err, service.ErrStorageDisabled):
		return huma.Error503ServiceUnavailable("file storage is not configured")
	default:
		return huma.Error500InternalServerError("internal error")
	}
}
