package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelmint/pixelmint-api/internal/models"
)

// SQLiteProviderCredentialRepository implements ProviderCredentialRepository for SQLite.
type SQLiteProviderCredentialRepository struct {
	db *sql.DB
}

// NewSQLiteProviderCredentialRepository creates a new SQLite provider credential repository.
func NewSQLiteProviderCredentialRepository(db *sql.DB) *SQLiteProviderCredentialRepository {
	return &SQLiteProviderCredentialRepository{db: db}
}

func (r *SQLiteProviderCredentialRepository) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	query := `
		INSERT INTO provider_credentials (id, provider, api_token_encrypted, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			api_token_encrypted = excluded.api_token_encrypted,
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at
	`
	isEnabled := 0
	if cred.IsEnabled {
		isEnabled = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.Provider,
		cred.APITokenEncrypted,
		isEnabled,
		cred.CreatedAt.Format(time.RFC3339),
		cred.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider credential: %w", err)
	}
	return nil
}

func (r *SQLiteProviderCredentialRepository) GetByProvider(ctx context.Context, provider string) (*models.ProviderCredential, error) {
	query := `
		SELECT id, provider, api_token_encrypted, is_enabled, created_at, updated_at
		FROM provider_credentials WHERE provider = ?
	`
	var cred models.ProviderCredential
	var isEnabled int
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, query, provider).Scan(
		&cred.ID, &cred.Provider, &cred.APITokenEncrypted, &isEnabled, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan provider credential: %w", err)
	}
	cred.IsEnabled = isEnabled == 1
	cred.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	cred.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &cred, nil
}

func (r *SQLiteProviderCredentialRepository) GetAll(ctx context.Context) ([]*models.ProviderCredential, error) {
	query := `
		SELECT id, provider, api_token_encrypted, is_enabled, created_at, updated_at
		FROM provider_credentials ORDER BY provider ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.ProviderCredential
	for rows.Next() {
		var cred models.ProviderCredential
		var isEnabled int
		var createdAt, updatedAt string
		if err := rows.Scan(&cred.ID, &cred.Provider, &cred.APITokenEncrypted, &isEnabled, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider credential: %w", err)
		}
		cred.IsEnabled = isEnabled == 1
		cred.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		cred.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		creds = append(creds, &cred)
	}
	return creds, rows.Err()
}
