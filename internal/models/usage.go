// Package models defines the domain models for the application.
package models

import "time"

// UsageAction identifies what a usage event records.
type UsageAction string

const (
	ActionGenerationStarted   UsageAction = "generation_started"
	ActionGenerationCompleted UsageAction = "generation_completed"
	ActionGenerationFailed    UsageAction = "generation_failed"
	ActionGenerationCancelled UsageAction = "generation_cancelled"
	ActionTokensPurchased     UsageAction = "tokens_purchased"
	ActionImageUploaded       UsageAction = "image_uploaded"
	ActionImageDownloaded     UsageAction = "image_downloaded"
	ActionLogin               UsageAction = "login"
	ActionLogout              UsageAction = "logout"
)

// UsageEvent is an append-only record of user activity. Events are only
// ever inserted and (eventually) deleted by retention cleanup; there is
// deliberately no update path.
type UsageEvent struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Action       UsageAction `json:"action"`
	Model        string      `json:"model,omitempty"`
	GenerationID *string     `json:"generation_id,omitempty"`
	TokensUsed   int         `json:"tokens_used"`
	MetadataJSON string      `json:"metadata_json,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
