// Package service contains the business logic layer.
// Note: User identity, OAuth, and sessions are handled by the identity
// provider. The UserID in services references identity-provider user IDs
// (e.g., "user_xxx").
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/crypto"
	"github.com/pixelmint/pixelmint-api/internal/provider"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Generation *GenerationService
	Ledger     *LedgerService
	Account    *AccountService
	Usage      *UsageService
	Storage    *StorageService
	Cleanup    *CleanupService
	Credential *CredentialService
	Provider   provider.Client
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) (*Services, error) {
	// Encryptor is needed for provider credentials stored at rest.
	var encryptor *crypto.Encryptor
	if len(cfg.EncryptionKey) > 0 {
		var err error
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
	} else {
		logger.Warn("no encryption key configured - stored provider credentials unavailable")
	}

	credentialSvc := NewCredentialService(repos.ProviderCredential, encryptor, cfg.ProviderAPIToken, logger)

	providerClient := provider.NewHTTPClient(provider.ClientConfig{
		BaseURL:  cfg.ProviderBaseURL,
		APIToken: cfg.ProviderAPIToken,
		TokenResolver: func(ctx context.Context) string {
			return credentialSvc.ResolveProviderToken(ctx, cfg.ProviderName)
		},
		WebhookURL: fmt.Sprintf("%s/api/v1/webhooks/provider", cfg.BaseURL),
		Logger:     logger,
	})

	storageSvc, err := NewStorageService(cfg, repos, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	ledgerSvc := NewLedgerService(repos, logger)
	accountSvc := NewAccountService(cfg, repos, ledgerSvc, logger)
	generationSvc := NewGenerationService(cfg, repos, providerClient, logger)
	usageSvc := NewUsageService(repos, logger)
	cleanupSvc := NewCleanupService(repos.UsageEvent, storageSvc, logger)

	return &Services{
		Generation: generationSvc,
		Ledger:     ledgerSvc,
		Account:    accountSvc,
		Usage:      usageSvc,
		Storage:    storageSvc,
		Cleanup:    cleanupSvc,
		Credential: credentialSvc,
		Provider:   providerClient,
	}, nil
}
