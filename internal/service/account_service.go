package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pixelmint/pixelmint-api/internal/config"
	"github.com/pixelmint/pixelmint-api/internal/models"
	"github.com/pixelmint/pixelmint-api/internal/repository"
)

// AccountService provisions and maintains user accounts. User identity lives
// in the upstream identity provider; this service mirrors the profile locally
// and attaches the token balance to it.
type AccountService struct {
	cfg    *config.Config
	repos  *repository.Repositories
	ledger *LedgerService
	logger *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(cfg *config.Config, repos *repository.Repositories, ledger *LedgerService, logger *slog.Logger) *AccountService {
	return &AccountService{
		cfg:    cfg,
		repos:  repos,
		ledger: ledger,
		logger: logger,
	}
}

// ProvisionUser creates the local record for a newly registered user and
// grants the signup token allowance. Re-provisioning an existing user is a
// no-op so identity webhook redeliveries are safe.
func (s *AccountService) ProvisionUser(ctx context.Context, userID, email, displayName string) error {
	existing, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if existing != nil {
		s.logger.Info("user already provisioned", "user_id", userID)
		return nil
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:          userID,
		Email:       email,
		DisplayName: displayName,
		Tier:        "free",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.User.Create(ctx, user); err != nil {
		if isDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.ledger.GrantSignupTokens(ctx, userID, s.cfg.SignupGrantTokens); err != nil {
		s.logger.Error("failed to grant signup tokens", "user_id", userID, "error", err)
	}

	s.logger.Info("provisioned user",
		"user_id", userID,
		"signup_tokens", s.cfg.SignupGrantTokens,
	)

	return nil
}

// GetProfile retrieves a user's profile and balance.
func (s *AccountService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repos.User.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile syncs profile fields from the identity provider. The token
// balance is never touched here.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, email, displayName, tier string) error {
	if err := s.repos.User.UpdateProfile(ctx, userID, email, displayName, tier); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// CountUsers returns the total user count (admin dashboards).
func (s *AccountService) CountUsers(ctx context.Context) (int, error) {
	return s.repos.User.Count(ctx)
}

// RecordLogin appends a login event to the usage log.
func (s *AccountService) RecordLogin(ctx context.Context, userID string) {
	s.recordSessionEvent(ctx, userID, models.ActionLogin)
}

// RecordLogout appends a logout event to the usage log.
func (s *AccountService) RecordLogout(ctx context.Context, userID string) {
	s.recordSessionEvent(ctx, userID, models.ActionLogout)
}

func (s *AccountService) recordSessionEvent(ctx context.Context, userID string, action models.UsageAction) {
	event := &models.UsageEvent{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.UsageEvent.Create(ctx, event); err != nil {
		s.logger.Error("failed to record session event",
			"user_id", userID,
			"action", action,
			"error", err,
		)
	}
}
