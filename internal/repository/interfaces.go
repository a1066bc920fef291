// Package repository defines repository interfaces for data access.
// Note: Authentication lives in the identity provider; user_id fields
// reference identity-provider user IDs (e.g., "user_xxx").
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// UserRepository defines methods for user and token balance data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, email, displayName, tier string) error
	// Count returns the total number of users (admin dashboards).
	Count(ctx context.Context) (int, error)
}

// GenerationRepository defines methods for generation data access.
type GenerationRepository interface {
	Create(ctx context.Context, gen *models.Generation, event *models.UsageEvent) error
	GetByID(ctx context.Context, id string) (*models.Generation, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Generation, error)
	GetByUserID(ctx context.Context, userID string, status models.GenerationStatus, limit, offset int) ([]*models.Generation, error)
	// List returns generations across all users, newest first (admin listing).
	List(ctx context.Context, limit, offset int) ([]*models.Generation, error)
	CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error)
	// ClaimPending atomically claims the oldest pending generation for dispatch
	ClaimPending(ctx context.Context) (*models.Generation, error)
	// SetExternalID records the provider's prediction ID after dispatch
	SetExternalID(ctx context.Context, id, externalID string) error
	// Settle atomically applies a terminal transition: status write, clamped
	// balance debit, and usage event in one transaction. Returns false when
	// the status guard matched no row (already settled or illegal move).
	Settle(ctx context.Context, p SettleParams) (bool, error)
	// Requeue moves a failed generation back to pending for another attempt.
	// Returns false when the generation is not failed or the retry budget is
	// exhausted.
	Requeue(ctx context.Context, id string) (bool, error)
	// Delete removes a generation record. Returns false when no row matched.
	// Usage events and the token ledger are not touched.
	Delete(ctx context.Context, id string) (bool, error)
	// ListStaleProcessing returns generations stuck in processing since before cutoff
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Generation, error)
}

// SettleParams describes a terminal transition applied by Settle.
type SettleParams struct {
	GenerationID string
	// FromStatuses guards the write: the UPDATE only matches when the row is
	// currently in one of these states.
	FromStatuses []models.GenerationStatus
	ToStatus     models.GenerationStatus
	// TokensUsed is written to the generation row (non-zero only for completed).
	TokensUsed int
	// DebitTokens is subtracted from the user's balance, clamping at zero.
	DebitTokens  int
	ErrorMessage string
	OutputKeys   []string
	PredictTime  float64
	// Event is inserted in the same transaction when non-nil.
	Event *models.UsageEvent
}

// UsageEventRepository defines methods for the append-only usage log.
// Events are inserted and eventually reaped by retention cleanup; there is
// no update method on purpose.
type UsageEventRepository interface {
	Create(ctx context.Context, event *models.UsageEvent) error
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.UsageEvent, error)
	// DeleteOlderThan removes events created before the cutoff and returns
	// how many were deleted.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TokenPurchaseRepository defines methods for token purchase data access.
type TokenPurchaseRepository interface {
	// CreateAndCredit inserts the purchase and credits the user's balance in
	// one transaction, returning the balance after the credit. A duplicate
	// stripe_payment_id fails the whole transaction.
	CreateAndCredit(ctx context.Context, purchase *models.TokenPurchase) (int, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.TokenPurchase, error)
	GetByStripePaymentID(ctx context.Context, stripePaymentID string) (*models.TokenPurchase, error)
}

// FileMetadataRepository defines methods for stored object metadata.
type FileMetadataRepository interface {
	Create(ctx context.Context, file *models.FileMetadata) error
	GetByID(ctx context.Context, id string) (*models.FileMetadata, error)
	GetByObjectKey(ctx context.Context, key string) (*models.FileMetadata, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.FileMetadata, error)
	GetByGenerationID(ctx context.Context, generationID string) ([]*models.FileMetadata, error)
	SoftDelete(ctx context.Context, id string) error
}

// ProviderCredentialRepository defines methods for provider credential access.
type ProviderCredentialRepository interface {
	Upsert(ctx context.Context, cred *models.ProviderCredential) error
	GetByProvider(ctx context.Context, provider string) (*models.ProviderCredential, error)
	GetAll(ctx context.Context) ([]*models.ProviderCredential, error)
}

// AnalyticsRepository defines read-only aggregate queries over usage events
// and generations.
type AnalyticsRepository interface {
	GetUsageAnalytics(ctx context.Context, userID, startDate, endDate string) (*UsageAnalytics, error)
	GetGenerationMetrics(ctx context.Context, startDate, endDate string) (*GenerationMetrics, error)
	GetPopularModels(ctx context.Context, startDate, endDate string, limit int) ([]*PopularModel, error)
	GetUserActivitySummary(ctx context.Context, userID string) (*UserActivitySummary, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	User               UserRepository
	Generation         GenerationRepository
	UsageEvent         UsageEventRepository
	TokenPurchase      TokenPurchaseRepository
	FileMetadata       FileMetadataRepository
	ProviderCredential ProviderCredentialRepository
	Analytics          AnalyticsRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		User:               NewSQLiteUserRepository(db),
		Generation:         NewSQLiteGenerationRepository(db),
		UsageEvent:         NewSQLiteUsageEventRepository(db),
		TokenPurchase:      NewSQLiteTokenPurchaseRepository(db),
		FileMetadata:       NewSQLiteFileMetadataRepository(db),
		ProviderCredential: NewSQLiteProviderCredentialRepository(db),
		Analytics:          NewSQLiteAnalyticsRepository(db),
	}
}
