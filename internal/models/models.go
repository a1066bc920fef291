// Package models defines the domain models for the application.
// Note: Authentication and identity live in the upstream identity provider;
// UserID fields reference identity-provider user IDs (e.g., "user_xxx").
package models

import (
	"time"
)

// GenerationStatus represents the lifecycle state of a generation.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// MaxRetryCount caps how many times a failed generation may be re-queued.
const MaxRetryCount = 3

// statusTransitions is the single source of truth for legal status moves.
// Every status write in the system goes through CanTransitionTo. A pending
// generation may settle straight to completed when the provider result
// arrives before the dispatch claim is observed.
var statusTransitions = map[GenerationStatus][]GenerationStatus{
	GenerationStatusPending:    {GenerationStatusProcessing, GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled},
	GenerationStatusProcessing: {GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled},
	GenerationStatusFailed:     {GenerationStatusPending},
	GenerationStatusCompleted:  {},
	GenerationStatusCancelled:  {},
}

// statusOrder fixes iteration order over the transition table; map order is
// random and settle guards need deterministic SQL.
var statusOrder = []GenerationStatus{
	GenerationStatusPending,
	GenerationStatusProcessing,
	GenerationStatusCompleted,
	GenerationStatusFailed,
	GenerationStatusCancelled,
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s GenerationStatus) CanTransitionTo(target GenerationStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may legally move to target,
// derived from the transition table so settle guards cannot drift from it.
func TransitionSources(target GenerationStatus) []GenerationStatus {
	var sources []GenerationStatus
	for _, s := range statusOrder {
		if s.CanTransitionTo(target) {
			sources = append(sources, s)
		}
	}
	return sources
}

// IsTerminal reports whether s is a resting state. Completed and cancelled
// are final; failed is terminal for accounting but may be re-queued by retry.
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status value.
func (s GenerationStatus) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// GenerationParams holds the model inputs for an image generation request.
type GenerationParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Seed           *int64  `json:"seed,omitempty"` // nil = provider picks one
	NumOutputs     int     `json:"num_outputs,omitempty"`
	SourceImageKey string  `json:"source_image_key,omitempty"` // object key for img2img inputs
}

// Generation represents an image generation job.
type Generation struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"` // identity-provider user ID
	Model        string           `json:"model"`
	Status       GenerationStatus `json:"status"`
	ParamsJSON   string           `json:"params_json"`
	CostTokens   int              `json:"cost_tokens"`              // declared price, debited at settlement
	TokensUsed   int              `json:"tokens_used"`              // non-zero only once completed
	ExternalID   string           `json:"external_id,omitempty"`    // provider prediction ID
	OutputKeys   []string         `json:"output_keys,omitempty"`    // object keys of result images
	ErrorMessage string           `json:"error_message,omitempty"`
	RetryCount   int              `json:"retry_count"`
	PredictTime  float64          `json:"predict_time,omitempty"` // provider-reported seconds of compute
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"` // set on any terminal state
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// FileMetadata describes an object stored in S3 on behalf of a user.
type FileMetadata struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	GenerationID *string    `json:"generation_id,omitempty"` // nil for uploaded source images
	ObjectKey    string     `json:"object_key"`
	FileName     string     `json:"file_name"`
	ContentType  string     `json:"content_type"`
	SizeBytes    int64      `json:"size_bytes"`
	Purpose      string     `json:"purpose"` // source, output
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// ProviderCredential is an admin-configured API token for the image
// generation provider. The token is stored encrypted at rest.
type ProviderCredential struct {
	ID                string    `json:"id"`
	Provider          string    `json:"provider"` // e.g. replicate
	APITokenEncrypted string    `json:"-"`
	IsEnabled         bool      `json:"is_enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
