package service

import (
	"errors"
	"strings"
)

var (
	// ErrInsufficientTokens indicates the user's balance does not cover the
	// declared cost of a generation.
	ErrInsufficientTokens = errors.New("insufficient token balance")

	// ErrGenerationNotFound indicates the generation does not exist or does
	// not belong to the requesting user.
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrInvalidTransition indicates the generation is not in a state that
	// permits the requested operation.
	ErrInvalidTransition = errors.New("operation not allowed in current status")

	// ErrRetryLimit indicates the generation has exhausted its retry budget.
	ErrRetryLimit = errors.New("retry limit reached")

	// ErrDuplicatePurchase indicates a Stripe payment ID was already credited.
	ErrDuplicatePurchase = errors.New("duplicate payment - already processed")

	// ErrUserNotFound indicates the user record does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrStorageDisabled indicates object storage is not configured.
	ErrStorageDisabled = errors.New("storage is not enabled")

	// ErrFileNotFound indicates the file does not exist or does not belong
	// to the requesting user.
	ErrFileNotFound = errors.New("file not found")
)

// isDuplicateKeyError checks if an error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "already exists")
}
