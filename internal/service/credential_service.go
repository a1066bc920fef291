package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelmint/pixelmint-api/internal/crypto"
	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// CredentialService stores provider API tokens encrypted at rest. An
// admin-configured DB credential takes precedence over the env token.
type CredentialService struct {
	repo      repository.ProviderCredentialRepository
	encryptor *crypto.Encryptor
	envToken  string
	logger    *slog.Logger
}

// NewCredentialService creates a new credential service.
func NewCredentialService(repo repository.ProviderCredentialRepository, encryptor *crypto.Encryptor, envToken string, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		repo:      repo,
		encryptor: encryptor,
		envToken:  envToken,
		logger:    logger,
	}
}

// SetProviderToken encrypts and stores an API token for a provider.
func (s *CredentialService) SetProviderToken(ctx context.Context, providerName, apiToken string) error {
	if s.encryptor == nil {
		return fmt.Errorf("encryption not configured")
	}

	encrypted, err := s.encryptor.Encrypt(apiToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	now := time.Now().UTC()
	cred := &models.ProviderCredential{
		ID:                ulid.Make().String(),
		Provider:          providerName,
		APITokenEncrypted: encrypted,
		IsEnabled:         true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	s.logger.Info("stored provider credential", "provider", providerName)
	return nil
}

// ResolveProviderToken returns the API token to use for a provider: the
// decrypted DB credential when present and enabled, otherwise the env token.
func (s *CredentialService) ResolveProviderToken(ctx context.Context, providerName string) string {
	cred, err := s.repo.GetByProvider(ctx, providerName)
	if err != nil {
		s.logger.Warn("failed to load provider credential, using env token",
			"provider", providerName,
			"error", err,
		)
		return s.envToken
	}
	if cred == nil || !cred.IsEnabled || s.encryptor == nil {
		return s.envToken
	}

	token, err := s.encryptor.Decrypt(cred.APITokenEncrypted)
	if err != nil {
		s.logger.Error("failed to decrypt provider credential, using env token",
			"provider", providerName,
			"error", err,
		)
		return s.envToken
	}
	if token == "" {
		return s.envToken
	}
	return token
}

// CredentialInfo is the admin view of a stored credential. The token itself
// never leaves the service.
type CredentialInfo struct {
	Provider  string    `json:"provider"`
	IsEnabled bool      `json:"is_enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListCredentials returns the stored credentials without token material.
func (s *CredentialService) ListCredentials(ctx context.Context) ([]CredentialInfo, error) {
	creds, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	infos := make([]CredentialInfo, 0, len(creds))
	for _, cred := range creds {
		infos = append(infos, CredentialInfo{
			Provider:  cred.Provider,
			IsEnabled: cred.IsEnabled,
			UpdatedAt: cred.UpdatedAt,
		})
	}
	return infos, nil
}
